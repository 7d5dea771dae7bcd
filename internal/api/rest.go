package api

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/casalist/casalist/internal/api/houses"
	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	// RestConfig is assembled by the composition root from the top-level
	// configuration; it is not loaded from file or environment directly.
	RestConfig struct {
		HostAddr string

		// UploadRootDir is the directory whose uploads/ subtree is
		// served statically; it must match the asset store root.
		UploadRootDir string
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes Casalist exposes and
	// to serve the processed media files from the upload root.
	RestGateway struct {
		config           *RestConfig
		ec               *echo.Echo
		housesController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(config *RestConfig, mediaService houses.Service, transformDefault image.Options) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:           config,
		ec:               ec,
		housesController: houses.New(mediaService, transformDefault),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	// Processed media is served directly from the upload root; the URLs
	// recorded in the catalog resolve against this route.
	ec.Static("/uploads", filepath.Join(config.UploadRootDir, "uploads"))

	housesGroup := ec.Group("/api/casalist/v1/houses/")
	gateway.housesController.SetRoutes(housesGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
