package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	ssePollInterval  = 100 * time.Millisecond
	sseStreamTimeout = 10 * time.Minute
)

func startSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		jsonData = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}

// pollSSE sends the value returned by poll every time it changes until
// poll reports done, the client goes away or the stream times out.
func pollSSE(c echo.Context, poll func() (value interface{}, key string, done bool, ok bool)) error {
	startSSE(c)

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()
	timeout := time.After(sseStreamTimeout)

	lastKey := ""
	for {
		value, key, done, ok := poll()
		if !ok {
			sendSSEError(c, "not found")
			return nil
		}
		if key != lastKey {
			lastKey = key
			sendSSEData(c, value)
		}
		if done {
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-timeout:
			sendSSEError(c, "stream timeout")
			return nil
		case <-ticker.C:
		}
	}
}
