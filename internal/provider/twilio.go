package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioProvider delivers codes via the Twilio REST API: SMS through the
// Messages resource, voice through the Calls resource with inline TwiML.
type TwilioProvider struct {
	name       string
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     http.Client
}

// NewTwilioProvider creates a TwilioProvider. If baseURL is empty, the Twilio
// production API is used (useful for tests that pass an httptest server URL).
func NewTwilioProvider(name, accountSID, authToken, fromNumber, baseURL string) *TwilioProvider {
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	return &TwilioProvider{
		name:       name,
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    baseURL,
	}
}

func (p *TwilioProvider) Name() string { return p.name }

func (p *TwilioProvider) Attempt(ctx context.Context, req Request) (*Result, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.fromNumber)

	var resource string
	switch req.Channel {
	case ChannelSMS:
		resource = "Messages.json"
		form.Set("Body", req.Body())
	case ChannelVoice:
		resource = "Calls.json"
		form.Set("Twiml", voiceTwiML(req))
	default:
		return nil, fmt.Errorf("twilio: %w: %s", ErrUnsupportedChannel, req.Channel)
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", p.baseURL, p.accountSID, resource)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("twilio: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("twilio: error %d: %s", errResp.Code, errResp.Message)
		}
		return nil, fmt.Errorf("twilio: error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("twilio: parse response: %w", err)
	}

	return &Result{
		MessageID: parsed.SID,
		Status:    parsed.Status,
	}, nil
}

// voiceTwiML reads the code digit by digit, twice.
func voiceTwiML(req Request) string {
	spoken := strings.Join(strings.Split(req.Code, ""), ", ")
	say := fmt.Sprintf("<Say>Your verification code is %s.</Say>", spoken)
	return "<Response>" + say + `<Pause length="1"/>` + say + "</Response>"
}
