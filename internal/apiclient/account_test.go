package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

func TestUpdateProfile_SendsFormAndReadsData(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/auth/profile/", r.URL.Path)
		assert.Equal(t, "Bearer a", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = r.MultipartForm.Value
		w.Write([]byte(`{"message":"Profile updated successfully","data":{"id":4,"email":"ops@kwa.in","first_name":"Asha"}}`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	name := "Asha"
	p, err := client.UpdateProfile(context.Background(), sid, model.ProfileUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Asha", p.FirstName)
	assert.Equal(t, json.Number("4"), p.ID)
	assert.Equal(t, map[string][]string{"first_name": {"Asha"}}, form)
}

func TestResetFlow_SendsNoBearerToken(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/auth/otp-verification/" {
			assert.JSONEq(t, `{"email":"ops@kwa.in","otp":"123456"}`, string(body))
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Invalid or expired OTP"}`))
			return
		}
		w.Write([]byte(`{"message":"OTP sent to your email"}`))
	}))
	defer srv.Close()

	client := New(testBackendConfig(srv.URL), session.NewManager(session.NewMemoryStore(), session.NewMemoryStore(), time.Hour, time.Hour))

	msg, err := client.ForgotPassword(context.Background(), "ops@kwa.in")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent to your email", msg.Message)

	_, err = client.VerifyOTP(context.Background(), model.OTPVerification{Email: "ops@kwa.in", OTP: "123456"})
	require.True(t, model.HasCode(err, model.ErrValidationError), "error = %v", err)
	env, _ := model.AsEnvelope(err)
	assert.Equal(t, "Invalid or expired OTP", env.Message)

	assert.Equal(t, []string{"/auth/forgot-password/", "/auth/otp-verification/"}, paths)
}

func TestDetailMessage_ReadsErrorKey(t *testing.T) {
	assert.Equal(t, "User not found", detailMessage([]byte(`{"error":"User not found"}`), "fallback"))
	assert.Equal(t, "Not found.", detailMessage([]byte(`{"detail":"Not found.","error":"x"}`), "fallback"))
	assert.Equal(t, "fallback", detailMessage([]byte(`[]`), "fallback"))
}
