package daemon

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/config"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/pipeline"
	"github.com/colorcal/colorcal/pkg/version"
)

// sseKeepAlive is the ping interval on idle event streams.
var sseKeepAlive = 30 * time.Second

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionInProgress),
		errors.Is(err, ErrNoSession),
		errors.Is(err, pipeline.ErrSessionFrozen),
		errors.Is(err, interaction.ErrNoInteraction),
		errors.Is(err, errNoSchedule):
		return http.StatusConflict
	case errors.Is(err, errPostponeTooLong):
		return http.StatusBadRequest
	}

	var ce *calibration.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case calibration.KindNoSupport:
			return http.StatusNotImplemented
		case calibration.KindNoData:
			return http.StatusUnprocessableEntity
		case calibration.KindUserAbort:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, calibration.Message(err))
	_ = c.AbortWithError(code, err)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func postStartCalibration(c *gin.Context) {
	var s calibration.Session
	if err := c.BindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	id, err := startCalibration(&s)
	if err != nil {
		logrus.WithError(err).Warn("startCalibration failed")
		abortWithError(c, httpStatus(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, id)
}

func postConfirmCalibration(c *gin.Context) {
	if err := confirmCalibration(); err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func postCancelCalibration(c *gin.Context) {
	if err := cancelCalibration(); err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func setReferenceKindHandler(c *gin.Context) {
	var k string
	if err := c.BindJSON(&k); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := setReferenceKind(calibration.ReferenceKind(k)); err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}

	logrus.Infof("set reference kind to %s", k)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func setWhitepointHandler(c *gin.Context) {
	var k int
	if err := c.BindJSON(&k); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := setWhitepoint(k); err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}

	logrus.Infof("set whitepoint to %dK", k)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getCalibrationStatusHandler(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, getCalibrationStatus())
}

func getScheduleHandler(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, getSchedule())
}

func setScheduleHandler(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	info, err := schedule(expr)
	if err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, info)
}

func postPostponeSchedule(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	info, err := postpone(d)
	if err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, info)
}

func postSkipSchedule(c *gin.Context) {
	info, err := skipNextSchedule()
	if err != nil {
		abortWithError(c, httpStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, info)
}

// streamEvents relays hub events as server-sent events until the client
// goes away or the daemon shuts down.
func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ticker.C:
			c.SSEvent("ping", "{}")
			return true
		case <-c.Request.Context().Done():
			return false
		case <-shuttingDown:
			return false
		}
	})
}
