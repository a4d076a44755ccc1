package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Mutter0815/OABroadcast/internal/compose"
	"github.com/Mutter0815/OABroadcast/pkg/metrics"
)

const (
	DefaultBaseURL = "https://openapi.zalo.me"

	pathListUsers  = "/v3.0/oa/user/getlist"
	pathUserDetail = "/v3.0/oa/user/detail"
	pathUpload     = "/v2.0/oa/upload/image"
	pathPromotion  = "/v3.0/oa/message/promotion"

	// responses larger than this are truncated in HTTPError bodies
	maxErrBody = 4 << 10
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the OA open API. The access token is passed per call so a
// token change in the console takes effect immediately.
type Client struct {
	baseURL string
	http    HTTPDoer
}

func NewClient(baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

type envelope struct {
	Error   int             `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// observe records one gateway call.
func observe(op string, start time.Time, err error) {
	metrics.GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.GatewayCallsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func queryData(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "data=" + url.QueryEscape(string(b)), nil
}

// do sends req and decodes the common response envelope into out (when
// non-nil). Non-2xx statuses become *HTTPError, non-zero codes *APIError.
func (c *Client) do(req *http.Request, token string, out any) error {
	req.Header.Set("access_token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrBody {
			body = body[:maxErrBody]
		}
		return &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if env.Error != 0 {
		return &APIError{Code: env.Error, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, token, path string, q any, out any) error {
	if strings.TrimSpace(token) == "" {
		return ErrNoToken
	}
	qs, err := queryData(q)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+qs, nil)
	if err != nil {
		return err
	}
	return c.do(req, token, out)
}

func (c *Client) ListUsers(ctx context.Context, token string, q ListQuery) (res UserPage, err error) {
	defer func(start time.Time) { observe("list_users", start, err) }(time.Now())

	if err = q.Validate(); err != nil {
		return UserPage{}, err
	}
	err = c.get(ctx, token, pathListUsers, q.clamped(), &res)
	return res, err
}

func (c *Client) UserDetail(ctx context.Context, token, userID string) (d UserDetail, err error) {
	defer func(start time.Time) { observe("user_detail", start, err) }(time.Now())

	err = c.get(ctx, token, pathUserDetail, map[string]string{"user_id": userID}, &d)
	if err == nil && d.UserID == "" {
		d.UserID = userID
	}
	return d, err
}

// UploadImage posts an image and returns the attachment id the gateway assigns.
func (c *Client) UploadImage(ctx context.Context, token, filename string, r io.Reader) (id string, err error) {
	defer func(start time.Time) { observe("upload_image", start, err) }(time.Now())

	if strings.TrimSpace(token) == "" {
		return "", ErrNoToken
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(fw, r); err != nil {
		return "", errors.Wrap(err, "read image")
	}
	if err = mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUpload, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var data struct {
		AttachmentID string `json:"attachment_id"`
	}
	if err = c.do(req, token, &data); err != nil {
		return "", err
	}
	if data.AttachmentID == "" {
		err = errors.New("upload response has no attachment_id")
		return "", err
	}
	return data.AttachmentID, nil
}

// SendPromotion delivers one composed message. A nil error means the gateway
// accepted it with error code 0.
func (c *Client) SendPromotion(ctx context.Context, token string, m compose.Message) (err error) {
	defer func(start time.Time) { observe("send_promotion", start, err) }(time.Now())

	if strings.TrimSpace(token) == "" {
		return ErrNoToken
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathPromotion, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, nil)
}
