package oam

import (
	"strings"

	"github.com/gin-gonic/gin"

	"pgw/app/pgw/internal/pkg/gateway"
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// Routes is the list of the generated Route.
type Routes []Route

// NewRouter returns a new router serving the session table of gw.
func NewRouter(router *gin.Engine, gw *gateway.Gateway) *gin.Engine {
	AddService(router, gw)
	return router
}

func AddService(engine *gin.Engine, gw *gateway.Gateway) *gin.RouterGroup {
	group := engine.Group("")
	h := &handler{gw: gw}

	for _, route := range h.routes() {
		switch route.Method {
		case "GET":
			group.GET(route.Pattern, route.HandlerFunc)
		case "POST":
			group.POST(route.Pattern, route.HandlerFunc)
		case "PUT":
			group.PUT(route.Pattern, route.HandlerFunc)
		case "PATCH":
			group.PATCH(route.Pattern, route.HandlerFunc)
		case "DELETE":
			group.DELETE(route.Pattern, route.HandlerFunc)
		}
	}
	return group
}

func (h *handler) routes() Routes {
	return Routes{
		{
			"session-by-teid",
			strings.ToUpper("GET"),
			"/teid/:teid",
			h.GetByTEID,
		},
		{
			"session-by-ue",
			strings.ToUpper("GET"),
			"/ue/:addr",
			h.GetByUE,
		},
		{
			"sessions",
			strings.ToUpper("GET"),
			"/sessions",
			h.List,
		},
		{
			"attach",
			strings.ToUpper("POST"),
			"/sessions",
			h.Attach,
		},
		{
			"detach",
			strings.ToUpper("DELETE"),
			"/sessions/:addr",
			h.Detach,
		},
		{
			"stats",
			strings.ToUpper("GET"),
			"/stats",
			h.Stats,
		},
	}
}
