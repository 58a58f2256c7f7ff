package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// HTTPTransport talks to a controller exposing /api/arm/command and
// /api/arm/telemetry.
type HTTPTransport struct {
	base   string
	client *http.Client
}

var _ Transport = &HTTPTransport{}

// NewHTTPTransport returns a transport for the controller at baseURL
// (e.g. "http://10.44.37.80"). Timeouts come from the caller's context.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{},
	}
}

func success(code int) bool { return code >= 200 && code < 300 }

func (t *HTTPTransport) Do(ctx context.Context, cmd Command) (Ack, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return Ack{}, errors.Wrap(err, "marshal command")
	}
	req, err := http.NewRequestWithContext(ctx, "POST", t.base+"/api/arm/command", bytes.NewReader(data))
	if err != nil {
		return Ack{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Ack{}, unreachable(err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		io.Copy(ioutil.Discard, resp.Body)
		return Ack{}, badStatus(resp.StatusCode)
	}

	// a reply without a JSON body is still an acknowledgement
	var r reply
	json.NewDecoder(resp.Body).Decode(&r)
	return r.ack(), nil
}

func (t *HTTPTransport) Telemetry(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", t.base+"/api/arm/telemetry", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, unreachable(err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		io.Copy(ioutil.Discard, resp.Body)
		return nil, badStatus(resp.StatusCode)
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, unreachable(err)
	}
	if !json.Valid(data) {
		return nil, &TransportError{Message: "Controller sent invalid telemetry"}
	}
	return json.RawMessage(data), nil
}
