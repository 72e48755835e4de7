package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/tether-chat/tether/pkg/protocol"
)

// UploadMedia streams one attachment to the server as multipart form data.
// messageID may be empty for an unattached upload; when set, the server links
// the media to that message. The returned Media carries the server-assigned
// id and the URL the file is served under.
func (c *Client) UploadMedia(ctx context.Context, messageID, filename string, content io.Reader) (*protocol.Media, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		var err error
		defer func() { pw.CloseWithError(err) }()
		if messageID != "" {
			if err = form.WriteField("messageId", messageID); err != nil {
				return
			}
		}
		var part io.Writer
		if part, err = form.CreateFormFile("file", filename); err != nil {
			return
		}
		if _, err = io.Copy(part, content); err != nil {
			return
		}
		err = form.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/media", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if err := c.bearer(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	var media protocol.Media
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return nil, err
	}
	return &media, nil
}
