// Package client is the daemon-side API client for a polarisd endpoint.
// Conflict responses are decoded back into the object error taxonomy so the
// reconciliation loop can branch on them as values.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/polaris-sync/polaris/internal/batch"
	"github.com/polaris-sync/polaris/internal/object"
)

const requestTimeout = 30 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error body back into a typed engine error, carrying
// the conflict detail fields the server includes alongside code and message.
func decodeError(resp *http.Response) error {
	var body struct {
		ErrorCode    object.ErrorCode `json:"error_code"`
		ErrorMessage string           `json:"error_message"`

		OID              object.OID `json:"oid"`
		SubmittedVersion uint64     `json:"submitted_version"`
		ActualVersion    uint64     `json:"actual_version"`

		Parent object.OID `json:"parent"`
		Name   string     `json:"name"`
		Holder object.OID `json:"holder"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("server %s: %s", resp.Status, string(raw))
	}
	switch body.ErrorCode {
	case object.CodeVersionConflict:
		return &object.VersionConflictError{
			OID:       body.OID,
			Submitted: body.SubmittedVersion,
			Actual:    body.ActualVersion,
		}
	case object.CodeNameConflict:
		return &object.NameConflictError{
			Parent: body.Parent,
			Name:   body.Name,
			Holder: body.Holder,
		}
	}
	return ErrorFromCode(body.ErrorCode, body.ErrorMessage)
}

// ErrorFromCode reconstructs the typed error for a wire code and message.
// Batch results carry only code and message per item, so conflict errors
// rebuilt here have empty detail fields; single-update responses go through
// decodeError, which fills them in.
func ErrorFromCode(code object.ErrorCode, message string) error {
	switch code {
	case object.CodeVersionConflict:
		return &object.VersionConflictError{}
	case object.CodeNameConflict:
		return &object.NameConflictError{Name: message}
	case object.CodeNotFound:
		return &object.NotFoundError{Kind: "remote", ID: message}
	case object.CodeInvalidUpdate:
		return &object.InvalidUpdateError{Reason: message}
	default:
		return fmt.Errorf("server error %s: %s", code, message)
	}
}

// CreateStore registers root on the server. Idempotent.
func (c *Client) CreateStore(ctx context.Context, root object.SID, name string) error {
	return c.do(ctx, http.MethodPut, "stores/"+string(root),
		map[string]string{"name": name}, nil)
}

// SubmitUpdate submits one Update for (root, oid).
func (c *Client) SubmitUpdate(ctx context.Context, root object.SID, oid object.OID, upd object.Update) (*object.Transform, error) {
	var t object.Transform
	err := c.do(ctx, http.MethodPost, "objects/"+string(oid),
		map[string]interface{}{"root": root, "update": upd}, &t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Changes fetches one feed page for root after cursor since. Requests zstd
// encoding and transparently decodes it.
func (c *Client) Changes(ctx context.Context, root object.SID, since uint64, limit int) ([]object.RemoteChange, error) {
	u, err := url.JoinPath(c.baseURL, "objects", string(root), "changes")
	if err != nil {
		return nil, err
	}
	u += "?since=" + strconv.FormatUint(since, 10) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Encoding", "zstd")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var rd io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "zstd" {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		rd = dec
	}
	var body struct {
		Transforms []object.RemoteChange `json:"transforms"`
	}
	if err := json.NewDecoder(rd).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return body.Transforms, nil
}

// SubmitBatch submits an ordered update batch; results align with items.
func (c *Client) SubmitBatch(ctx context.Context, items []batch.UpdateItem) ([]batch.UpdateResult, error) {
	var body struct {
		Results []batch.UpdateResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "batch",
		map[string]interface{}{"updates": items}, &body)
	if err != nil {
		return nil, err
	}
	return body.Results, nil
}

// MarkLocations reports content availability for a set of (oid, version).
func (c *Client) MarkLocations(ctx context.Context, items []batch.LocationItem) ([]batch.LocationResult, error) {
	var body struct {
		Results []batch.LocationResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "locations/batch",
		map[string]interface{}{"locations": items}, &body)
	if err != nil {
		return nil, err
	}
	return body.Results, nil
}

// LocationStatus queries availability for a set of (oid, version).
func (c *Client) LocationStatus(ctx context.Context, items []batch.StatusItem) ([]batch.StatusResult, error) {
	var body struct {
		Results []batch.StatusResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "locations/status/batch",
		map[string]interface{}{"queries": items}, &body)
	if err != nil {
		return nil, err
	}
	return body.Results, nil
}
