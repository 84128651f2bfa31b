package transcribe

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tircorder/tircorder/internal/config"
	"github.com/tircorder/tircorder/internal/governor"
)

// WebUIClient posts audio to a WhisperX-WebUI endpoint. The remote side is
// synchronous: the request blocks until the job finishes and the response
// carries the final transcript. Progress polling is not available on this
// interface.
type WebUIClient struct {
	cfg     config.WebUI
	limiter *governor.FixedLimiter
	client  *http.Client
}

// NewWebUIClient creates a WebUI backend from the settings document. The
// limiter paces outbound requests; nil means unpaced.
func NewWebUIClient(cfg config.WebUI, limiter *governor.FixedLimiter) *WebUIClient {
	client := &http.Client{Timeout: cfg.Timeout()}
	if !cfg.VerifySSL {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	if limiter == nil {
		limiter = governor.NewFixedLimiter(0)
	}
	return &WebUIClient{cfg: cfg, limiter: limiter, client: client}
}

func (c *WebUIClient) Name() string { return "webui" }

// Transcribe sends the audio file as multipart form data, field `files`,
// with configured options flattened alongside: nulls dropped, nested values
// JSON-encoded, scalars rendered as strings. The response may be
// {text, duration?}, [text, duration], {segments: [...]}, or a bare string;
// segmented results are reconstructed into the canonical
// "[<start>s -> <end>s] <text>" form.
func (c *WebUIClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if c.cfg.BaseURL == "" {
		return nil, WebUIError("WebUI base_url is not configured", nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	for _, key := range sortedKeys(c.cfg.Options) {
		value := c.cfg.Options[key]
		if value == nil {
			continue
		}
		field, err := flattenOption(value)
		if err != nil {
			return nil, fmt.Errorf("encode option %s: %w", key, err)
		}
		w.WriteField(key, field)
	}
	w.Close()

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + c.cfg.TranscribePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	} else if c.cfg.APIKey != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, WebUIError(err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WebUIError("read response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, WebUIError(fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	result, err := parseWebUIResult(body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, WebUIError("empty result", nil)
	}
	return result, nil
}

// flattenOption renders one option value as a form field. Dicts and lists
// travel as JSON strings; scalars as their plain text form.
func flattenOption(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// webUISegment is the wire form of one transcript segment. Start and end
// are pointers so a segment without timing renders as bare text.
type webUISegment struct {
	Text       string   `json:"text"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Speaker    string   `json:"speaker"`
	Confidence float64  `json:"confidence"`
}

func (s webUISegment) segment() Segment {
	seg := Segment{Text: s.Text, Speaker: s.Speaker, Confidence: s.Confidence}
	if s.Start != nil && s.End != nil {
		seg.Start = *s.Start
		seg.End = *s.End
	}
	return seg
}

// parseWebUIResult decodes the endpoint's response. A `text` key wins over
// `segments` when both are present.
func parseWebUIResult(body []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Result{}, nil
	}

	switch trimmed[0] {
	case '{':
		var obj struct {
			Text     *string        `json:"text"`
			Duration float64        `json:"duration"`
			Language string         `json:"language"`
			Segments []webUISegment `json:"segments"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, WebUIError("decode response: "+err.Error(), err)
		}
		res := &Result{Duration: obj.Duration, Language: obj.Language, Segments: convertSegments(obj.Segments)}
		if obj.Text != nil {
			res.Text = *obj.Text
		} else {
			res.Text = FormatSegments(res.Segments)
		}
		return res, nil

	case '[':
		// Either [text, duration] or a bare list of segments.
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, WebUIError("decode response: "+err.Error(), err)
		}
		if len(arr) == 0 {
			return &Result{}, nil
		}
		var text string
		if err := json.Unmarshal(arr[0], &text); err == nil {
			res := &Result{Text: text}
			if len(arr) > 1 {
				var dur float64
				if err := json.Unmarshal(arr[1], &dur); err == nil {
					res.Duration = dur
				}
			}
			return res, nil
		}
		var segs []webUISegment
		if err := json.Unmarshal(trimmed, &segs); err != nil {
			return nil, WebUIError("decode response: unexpected list shape", nil)
		}
		converted := convertSegments(segs)
		return &Result{Text: FormatSegments(converted), Segments: converted}, nil

	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, WebUIError("decode response: "+err.Error(), err)
		}
		return &Result{Text: text}, nil

	default:
		// Not JSON at all; take the body as plain text.
		return &Result{Text: string(trimmed)}, nil
	}
}

func convertSegments(wire []webUISegment) []Segment {
	if len(wire) == 0 {
		return nil
	}
	segs := make([]Segment, 0, len(wire))
	for _, s := range wire {
		segs = append(segs, s.segment())
	}
	return segs
}
