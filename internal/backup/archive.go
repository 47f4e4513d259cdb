package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/metrics"
)

const (
	// Ext is the archive file extension.
	Ext = ".zip"
	// TimeLayout is the timestamp suffix of every archive name.
	TimeLayout = "2006-01-02_15-04-05"
	// DefaultKeep is the retention count applied by Prune.
	DefaultKeep = 10

	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// ExcludedNames lists directory entries never archived, at any depth.
var ExcludedNames = []string{"logs", "crash-reports", "cache"}

var (
	ErrNotFound    = errors.New("backup not found")
	ErrInvalidName = errors.New("invalid backup name")
	ErrUnsafePath  = errors.New("archive entry escapes target directory")
)

// Info describes one archive in the backup directory.
type Info struct {
	Name      string    `json:"name"`
	Server    string    `json:"server"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"-"`
}

// Archiver creates, lists, restores and prunes zip archives in a single
// directory. It is safe for concurrent use as long as callers do not
// archive the same server at the same second.
type Archiver struct {
	dir     string
	level   int
	exclude []string
	log     *slog.Logger
	hist    *history.Recorder
	now     func() time.Time
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithLevel sets the deflate level (flate.BestSpeed..flate.BestCompression).
func WithLevel(level int) Option { return func(a *Archiver) { a.level = level } }

// WithExclude replaces ExcludedNames.
func WithExclude(names []string) Option { return func(a *Archiver) { a.exclude = names } }

// WithHistory records a backup event for every created archive.
func WithHistory(h *history.Recorder) Option { return func(a *Archiver) { a.hist = h } }

func NewArchiver(dir string, log *slog.Logger, opts ...Option) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	a := &Archiver{dir: dir, level: flate.DefaultCompression, exclude: ExcludedNames, log: log, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Archiver) Dir() string { return a.dir }

// Create archives srcDir as "<server>_<timestamp>.zip" and returns its info.
func (a *Archiver) Create(ctx context.Context, server, srcDir string) (Info, error) {
	return a.create(ctx, server, srcDir, TriggerManual)
}

func (a *Archiver) create(ctx context.Context, server, srcDir, trigger string) (info Info, err error) {
	started := time.Now()
	defer func() { metrics.ObserveBackup(trigger, time.Since(started).Seconds(), err) }()

	st, err := os.Stat(srcDir)
	if err != nil {
		return Info{}, fmt.Errorf("backup %s: %w", server, err)
	}
	if !st.IsDir() {
		return Info{}, fmt.Errorf("backup %s: %s is not a directory", server, srcDir)
	}
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return Info{}, err
	}

	name := server + "_" + a.now().Format(TimeLayout)
	final := filepath.Join(a.dir, name+Ext)
	tmp, err := os.CreateTemp(a.dir, "."+name+"-*.tmp")
	if err != nil {
		return Info{}, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	level := a.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	if err = addTree(ctx, zw, srcDir, a.exclude); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return Info{}, fmt.Errorf("backup %s: %w", server, err)
	}
	if err = zw.Close(); err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err = tmp.Close(); err != nil {
		return Info{}, err
	}
	if err = os.Rename(tmpName, final); err != nil {
		return Info{}, err
	}

	info, err = stat(final)
	if err != nil {
		return Info{}, err
	}
	a.log.Info("backup created", "server", server, "name", info.Name, "size", info.Size, "trigger", trigger)
	a.hist.Record(ctx, history.Event{Type: history.EventBackup, OccurredAt: a.now(), Server: server, Detail: info.Name})
	return info, nil
}

func addTree(ctx context.Context, zw *zip.Writer, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if slices.Contains(exclude, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		fi, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			hdr, err := zip.FileInfoHeader(fi)
			if err != nil {
				return err
			}
			hdr.Name = rel + "/"
			_, err = zw.CreateHeader(hdr)
			return err
		case fi.Mode().IsRegular():
			return addFile(zw, path, rel, fi)
		default:
			// symlinks, sockets and devices are not archived
			return nil
		}
	})
}

func addFile(zw *zip.Writer, path, rel string, fi fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}

// List returns every archive, newest first.
func (a *Archiver) List() ([]Info, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		info, err := stat(filepath.Join(a.dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListServer returns the archives of one server, newest first.
func (a *Archiver) ListServer(server string) ([]Info, error) {
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.Server == server {
			out = append(out, b)
		}
	}
	return out, nil
}

// Path resolves a backup name, with or without extension, to its file.
func (a *Archiver) Path(name string) (string, error) {
	name = strings.TrimSuffix(name, Ext)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	p := filepath.Join(a.dir, name+Ext)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return p, nil
}

// Restore replaces targetDir with the contents of the named archive.
func (a *Archiver) Restore(ctx context.Context, name, targetDir string) error {
	p, err := a.Path(name)
	if err != nil {
		return err
	}
	zr, err := zip.OpenReader(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = zr.Close() }()
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	for _, f := range zr.File {
		if _, err := safeJoin(targetDir, f.Name); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}

	// extract next to the target so the final swap is a rename on one filesystem
	parent := filepath.Dir(filepath.Clean(targetDir))
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(targetDir)+".restore-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extract(f, staging); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(targetDir); err != nil {
		return err
	}
	if err := os.Rename(staging, targetDir); err != nil {
		return err
	}
	a.log.Info("backup restored", "name", name, "target", targetDir)
	return nil
}

func extract(f *zip.File, root string) error {
	dest, err := safeJoin(root, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return os.MkdirAll(dest, 0o750)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(root, clean), nil
}

// Delete removes the named archive.
func (a *Archiver) Delete(name string) error {
	p, err := a.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Prune keeps the newest keep archives across all servers, ordered by
// modification time, and deletes the rest. It returns the deleted names.
func (a *Archiver) Prune(keep int) ([]string, error) {
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	return a.prune(all, keep), nil
}

// PruneServer applies the same retention to one server's archives.
func (a *Archiver) PruneServer(server string, keep int) ([]string, error) {
	list, err := a.ListServer(server)
	if err != nil {
		return nil, err
	}
	return a.prune(list, keep), nil
}

func (a *Archiver) prune(newestFirst []Info, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(newestFirst) <= keep {
		return nil
	}
	var removed []string
	for _, b := range newestFirst[keep:] {
		if err := os.Remove(b.Path); err != nil {
			a.log.Warn("prune backup", "name", b.Name, "error", err)
			continue
		}
		removed = append(removed, b.Name)
	}
	if len(removed) > 0 {
		metrics.AddPruned(len(removed))
		a.log.Info("old backups pruned", "count", len(removed), "kept", keep)
	}
	return removed
}

func stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	name := strings.TrimSuffix(filepath.Base(path), Ext)
	return Info{
		Name:      name,
		Server:    ServerOf(name),
		Size:      fi.Size(),
		CreatedAt: fi.ModTime(),
		Path:      path,
	}, nil
}

// ServerOf extracts the server name from "<server>_<timestamp>". Names
// without a parseable timestamp are returned unchanged.
func ServerOf(name string) string {
	name = strings.TrimSuffix(name, Ext)
	n := len(TimeLayout) + 1
	if len(name) <= n || name[len(name)-n] != '_' {
		return name
	}
	if _, err := time.Parse(TimeLayout, name[len(name)-len(TimeLayout):]); err != nil {
		return name
	}
	return name[:len(name)-n]
}
