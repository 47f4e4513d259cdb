package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcmanager/internal/tunnel"
)

type addressResp struct {
	Address string        `json:"address"`
	Found   bool          `json:"found"`
	Source  tunnel.Source `json:"source,omitempty"`
}

func (r *Router) handlePlayitStart(c *gin.Context) {
	if err := r.d.Playit.Start(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.d.Playit.Status(c.Request.Context()))
}

func (r *Router) handlePlayitStop(c *gin.Context) {
	if err := r.d.Playit.Stop(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePlayitStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.d.Playit.Status(c.Request.Context()))
}

func (r *Router) handlePlayitAddress(c *gin.Context) {
	addr, ok := r.d.Playit.Address()
	resp := addressResp{Address: addr, Found: ok}
	if ok {
		resp.Source = tunnel.SourceCache
	}
	writeJSON(c, http.StatusOK, resp)
}

type setAddressReq struct {
	Address string `json:"address"`
}

func (r *Router) handlePlayitSetAddress(c *gin.Context) {
	var req setAddressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	addr := strings.TrimSpace(req.Address)
	r.d.Playit.SetAddress(addr)
	resp := addressResp{Address: addr, Found: addr != ""}
	if resp.Found {
		resp.Source = tunnel.SourceManual
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handlePlayitDetect(c *gin.Context) {
	addr, src, ok := r.d.Playit.Detect()
	writeJSON(c, http.StatusOK, addressResp{Address: addr, Found: ok, Source: src})
}

func (r *Router) handlePlayitLogs(c *gin.Context) {
	lines := r.d.Playit.Logs()
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, linesResp{Lines: lines})
}
