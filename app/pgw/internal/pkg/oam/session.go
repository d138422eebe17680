package oam

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogf/gf/v2/os/glog"

	"pgw/app/pgw/internal/pkg/gateway"
	"pgw/app/pgw/internal/pkg/id"
	"pgw/app/pgw/internal/pkg/reporter"
	"pgw/app/pgw/internal/pkg/teid"
)

var log = glog.New()

type handler struct {
	gw *gateway.Gateway
}

type sessionView struct {
	TEID       uint32    `json:"teid"`
	UE         string    `json:"ue"`
	Peer       string    `json:"peer"`
	RemoteTEID uint32    `json:"remoteTeid"`
	Created    time.Time `json:"created"`
}

func view(s gateway.Session) sessionView {
	return sessionView{
		TEID:       uint32(s.TEID),
		UE:         s.UE.String(),
		Peer:       s.Bearer.Peer.String(),
		RemoteTEID: uint32(s.Bearer.RemoteTEID),
		Created:    s.Bearer.Created,
	}
}

type attachRequest struct {
	UE         string `json:"ue" binding:"required"`
	Peer       string `json:"peer" binding:"required"`
	RemoteTEID uint32 `json:"remoteTeid" binding:"required"`
}

func problem(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *handler) GetByTEID(c *gin.Context) {
	// accepts decimal and 0x prefixed hex
	v, err := strconv.ParseUint(c.Param("teid"), 0, 32)
	if err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}

	s, ok := h.gw.Lookup(id.TEID(v))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	c.JSON(http.StatusOK, view(s))
}

func (h *handler) GetByUE(c *gin.Context) {
	ue, err := netip.ParseAddr(c.Param("addr"))
	if err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}

	s, ok := h.gw.LookupUE(ue)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	c.JSON(http.StatusOK, view(s))
}

func (h *handler) List(c *gin.Context) {
	ss := h.gw.Sessions()
	out := make([]sessionView, 0, len(ss))
	for _, s := range ss {
		out = append(out, view(s))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) Attach(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}

	ue, err := netip.ParseAddr(req.UE)
	if err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}
	peer, err := netip.ParseAddrPort(req.Peer)
	if err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}

	local, err := h.gw.Attach(c.Request.Context(), ue, peer, id.TEID(req.RemoteTEID))
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"teid": uint32(local)})
	case errors.Is(err, teid.ErrKeyInUse):
		problem(c, http.StatusConflict, err)
	default:
		log.Warningf(c.Request.Context(), "attach %s: %+v", ue, err)
		problem(c, http.StatusServiceUnavailable, err)
	}
}

func (h *handler) Detach(c *gin.Context) {
	ue, err := netip.ParseAddr(c.Param("addr"))
	if err != nil {
		problem(c, http.StatusBadRequest, err)
		return
	}

	local, err := h.gw.Detach(c.Request.Context(), ue)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"teid": uint32(local)})
	case errors.Is(err, gateway.ErrNoSession), errors.Is(err, teid.ErrNotFound):
		problem(c, http.StatusNotFound, err)
	default:
		problem(c, http.StatusInternalServerError, err)
	}
}

func (h *handler) Stats(c *gin.Context) {
	b, err := reporter.Encode(h.gw.Registry())
	if err != nil {
		problem(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}
