package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/events"
)

// SubscribeEvents opens the daemon's event stream. The channel is closed
// when ctx is done or the daemon goes away. Keep-alive pings are dropped.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, newStatusError(resp.StatusCode, resp.Status)
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var name string
		var data []string
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				if name != "" && name != "ping" {
					select {
					case ch <- events.Event{Name: name, Data: []byte(strings.Join(data, "\n"))}:
					case <-ctx.Done():
						return
					}
				}
				name, data = "", nil
				continue
			}

			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Debug("event stream closed")
		}
	}()

	return ch, nil
}
