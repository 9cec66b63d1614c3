package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/config"
	"github.com/colorcal/colorcal/pkg/events"
)

var (
	conf      config.Config
	sseHub    = events.NewEventHub()
	scheduler = newReminderScheduler()

	// shuttingDown is closed to end open event streams before the server
	// shuts down.
	shuttingDown = make(chan struct{})
)

// sessionStopTimeout bounds how long shutdown waits for a cancelled tool.
const sessionStopTimeout = 10 * time.Second

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.GET("/version", getVersion)

	router.POST("/calibration/start", postStartCalibration)
	router.POST("/calibration/confirm", postConfirmCalibration)
	router.POST("/calibration/cancel", postCancelCalibration)
	router.PUT("/calibration/reference-kind", setReferenceKindHandler)
	router.PUT("/calibration/whitepoint", setWhitepointHandler)
	router.GET("/calibration/status", getCalibrationStatusHandler)

	router.GET("/schedule", getScheduleHandler)
	router.PUT("/schedule", setScheduleHandler)
	router.POST("/schedule/postpone", postPostponeSchedule)
	router.POST("/schedule/skip", postSkipSchedule)

	router.GET("/events", streamEvents)

	return router
}

// removeStaleSocket deletes a socket file left by a daemon that did not
// exit cleanly.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return pkgerrors.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return pkgerrors.Errorf("another daemon is listening on %s", path)
	}
	logrus.WithField("path", path).Info("removing stale socket")
	return os.Remove(path)
}

// StatePath is where the daemon keeps the last calibration status next to
// the config file at configPath.
func StatePath(configPath string) string {
	return configPath + ".state"
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	initSessionState(StatePath(configPath))

	if expr := conf.RecalibrationCron(); expr != "" {
		if err := applySchedule(expr); err != nil {
			logrus.WithError(err).Error("ignoring invalid recalibrationCron")
		}
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := applySchedule(conf.RecalibrationCron()); err != nil {
				logrus.WithError(err).Error("ignoring invalid recalibrationCron")
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	if err := removeStaleSocket(unixSocketPath); err != nil {
		return err
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		if err := os.Chmod(unixSocketPath, 0o777); err != nil {
			return pkgerrors.Wrapf(err, "failed to change permissions of %s", unixSocketPath)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
	case err := <-serveErr:
		logrus.WithError(err).Error("http server failed")
	}

	stopActiveSession(sessionStopTimeout)
	scheduler.Stop()

	logrus.Info("shutting down http server")
	close(shuttingDown)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("exiting")
	return nil
}
