// Package rest sends authenticated requests to the REST api. Statuses are
// returned to the caller as is, only transport failures are errors.
package rest

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/hashicorp/go-cleanhttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "rest")

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

var metricsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dgateway_rest_requests_total",
	Help: "REST requests made, by method and status code",
}, []string{"method", "status"})

const defaultUserAgent = "DiscordBot (https://github.com/botlabs-gg/dgateway, 1.0)"

type Client struct {
	Token     string
	BaseURL   string
	UserAgent string

	HTTPClient *http.Client
}

// New returns a client for the default api url and version
func New(token string) *Client {
	return &Client{
		Token:      token,
		BaseURL:    EndpointAPI(DefaultAPIURL, APIVersion),
		UserAgent:  defaultUserAgent,
		HTTPClient: cleanhttp.DefaultPooledClient(),
	}
}

func (c *Client) authorization() string {
	if strings.HasPrefix(c.Token, "Bot ") {
		return c.Token
	}
	return "Bot " + c.Token
}

// Request sends body encoded as json (if not nil) to path and returns the
// response status and body
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := jsonCodec.Marshal(body)
		if err != nil {
			return 0, nil, errors.WithMessage(err, "encode body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		return 0, nil, errors.WithStackIf(err)
	}
	req = req.WithContext(ctx)

	req.Header.Set("Authorization", c.authorization())
	req.Header.Set("User-Agent", c.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, errors.WithMessage(err, method+" "+path)
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.WithMessage(err, "read response body")
	}

	metricsRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode >= 400 {
		logger.WithField("status", resp.StatusCode).Debugf("%s %s: %s", method, path, string(respBody))
	}

	return resp.StatusCode, respBody, nil
}

// IsSuccess returns true for 2xx statuses
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
