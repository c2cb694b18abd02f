package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/config"
)

func TestHTTPSenderSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "username" || pass != "password" || r.URL.Path != "/send" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &HTTPSender{Host: srv.URL, Username: "username", Password: "password"}
	err := s.Send(context.Background(), JobData{
		To:      []string{"foo@bar.com"},
		Cc:      []string{"foo-cc@bar.com"},
		Bcc:     []string{"foo-bcc@bar.com"},
		Subject: "This is only a test",
		HTML:    "<p>For real, only a test<p>",
	})
	require.NoError(t, err)

	want := map[string]interface{}{
		"html":    "<p>For real, only a test<p>",
		"subject": "This is only a test",
		"to":      []interface{}{"foo@bar.com"},
		"cc":      []interface{}{"foo-cc@bar.com"},
		"bcc":     []interface{}{"foo-bcc@bar.com"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (&HTTPSender{Host: srv.URL}).Send(context.Background(), JobData{To: []string{"a@b.c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSMTPSenderSend(t *testing.T) {
	var addr, from string
	var rcpt []string
	var msg []byte
	s := &SMTPSender{
		Host: "smtp.example.gov", Port: "587", Username: "u", Password: "p",
		FromEmail: "pages@example.gov", FromName: "Pages",
		sendMail: func(a string, _ smtp.Auth, f string, to []string, m []byte) error {
			addr, from, rcpt, msg = a, f, to, m
			return nil
		},
	}

	err := s.Send(context.Background(), JobData{To: []string{"a@example.gov"}, Bcc: []string{"b@example.gov"}, Subject: "Hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.gov:587", addr)
	assert.Equal(t, "pages@example.gov", from)
	assert.Equal(t, []string{"a@example.gov", "b@example.gov"}, rcpt)
	assert.True(t, strings.HasPrefix(string(msg), "From: Pages <pages@example.gov>\r\nTo: a@example.gov\r\n"))
	assert.NotContains(t, string(msg), "b@example.gov")
}

func TestSMTPSenderFoldsHeaderLineBreaks(t *testing.T) {
	var msg []byte
	s := &SMTPSender{
		Host: "smtp.example.gov", Port: "587", Username: "u", Password: "p",
		FromEmail: "pages@example.gov", FromName: "Pages",
		sendMail: func(_ string, _ smtp.Auth, _ string, _ []string, m []byte) error {
			msg = m
			return nil
		},
	}

	err := s.Send(context.Background(), JobData{
		To:      []string{"a@example.gov"},
		Subject: "Hi\r\nBcc: victim@example.com\nX-Evil: 1",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)

	headers := strings.SplitN(string(msg), "\r\n\r\n", 2)[0]
	lines := strings.Split(headers, "\r\n")
	assert.Equal(t, []string{
		"From: Pages <pages@example.gov>",
		"To: a@example.gov",
		"Subject: Hi Bcc: victim@example.com X-Evil: 1",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}, lines)
}

func TestSMTPSenderUnconfiguredSkips(t *testing.T) {
	s := &SMTPSender{logger: zap.NewNop().Sugar(), sendMail: func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("should not be called")
	}}
	assert.NoError(t, s.Send(context.Background(), JobData{To: []string{"a@example.gov"}}))
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(config.MailerConfig{Transport: "smtp"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	_, err = NewSender(config.MailerConfig{Transport: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

func TestDirectQueue(t *testing.T) {
	var sent []JobData
	q := NewDirectQueue(senderFunc(func(_ context.Context, d JobData) error {
		sent = append(sent, d)
		return nil
	}), zap.NewNop())

	job, err := q.Add(context.Background(), JobAlert, JobData{Subject: "s"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Len(t, sent, 1)
}

type senderFunc func(ctx context.Context, data JobData) error

func (f senderFunc) Send(ctx context.Context, data JobData) error { return f(ctx, data) }
