package client

import (
	"encoding/json"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/config"
)

// ScheduleInfo mirrors the daemon's schedule response.
type ScheduleInfo struct {
	Cron     string      `json:"cron"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
	Running  bool        `json:"running"`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

// StartCalibration submits a session and returns its id.
func (c *Client) StartCalibration(s *calibration.Session) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	ret, err := c.Post("/calibration/start", string(payload))
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to start calibration")
	}
	var id string
	if err := json.Unmarshal([]byte(ret), &id); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal session id")
	}
	return id, nil
}

func (c *Client) ConfirmCalibration() (string, error) {
	return c.Post("/calibration/confirm", "")
}

func (c *Client) CancelCalibration() (string, error) {
	return c.Post("/calibration/cancel", "")
}

func (c *Client) SetReferenceKind(kind calibration.ReferenceKind) (string, error) {
	return c.Put("/calibration/reference-kind", jsonString(string(kind)))
}

func (c *Client) SetWhitepoint(kelvin int) (string, error) {
	return c.Put("/calibration/whitepoint", strconv.Itoa(kelvin))
}

func (c *Client) GetCalibrationStatus() (*calibration.Status, error) {
	ret, err := c.Get("/calibration/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration status")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

func (c *Client) GetSchedule() (*ScheduleInfo, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return parseSchedule(ret)
}

// SetSchedule installs a cron expression; an empty one disables the
// reminder.
func (c *Client) SetSchedule(expr string) (*ScheduleInfo, error) {
	ret, err := c.Put("/schedule", jsonString(expr))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return parseSchedule(ret)
}

func (c *Client) PostponeSchedule(d time.Duration) (*ScheduleInfo, error) {
	ret, err := c.Post("/schedule/postpone", jsonString(d.String()))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone schedule")
	}
	return parseSchedule(ret)
}

func (c *Client) SkipSchedule() (*ScheduleInfo, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip schedule")
	}
	return parseSchedule(ret)
}

func parseSchedule(ret string) (*ScheduleInfo, error) {
	var info ScheduleInfo
	if err := json.Unmarshal([]byte(ret), &info); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &info, nil
}
