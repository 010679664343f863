package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// コンパイル時チェック
var _ URLValidator = (*SSRFGuard)(nil)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("safeurl のカスタムTransportが設定されているべき")
	}
}

// TestNewSafeClientBlocksLoopback はループバックへのリクエストがブロックされることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)

	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("ループバックへのリクエストはエラーになるべき")
	}
}

func TestValidateURL_PublicURL(t *testing.T) {
	guard := NewSSRFGuard()

	for _, u := range []string{
		"https://br.shein.com/Women-Two-piece-Outfits-c-1780.html",
		"https://br.shein.com/category/vestidos-sc-00212345.html?page=2",
		"http://m.shein.com/br/",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) がエラーを返した: %v", u, err)
			}
		})
	}
}

func TestValidateURL_BlockedHosts(t *testing.T) {
	guard := NewSSRFGuard()

	for _, u := range []string{
		"http://10.0.0.1/c.html",
		"http://172.16.0.1/c.html",
		"http://192.168.1.100/c.html",
		"http://127.0.0.1/c.html",
		"http://localhost/c.html",
		"http://LOCALHOST./c.html",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://100.64.0.1/c.html",
		"http://[::1]/c.html",
		"http://[fd00::1]/c.html",
		"http://0.0.0.0/c.html",
	} {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Errorf("ValidateURL(%q) = %v, want *BlockedError", u, err)
			}
		})
	}
}

func TestValidateURL_InvalidURL(t *testing.T) {
	guard := NewSSRFGuard()

	for _, u := range []string{
		"",
		"not-a-url",
		"ftp://br.shein.com/c.html",
		"file:///etc/passwd",
		"https://",
	} {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err == nil {
				t.Fatalf("ValidateURL(%q) はエラーを返すべき", u)
			}
			var blocked *BlockedError
			if errors.As(err, &blocked) {
				t.Errorf("形式不正は BlockedError と区別されるべき: %v", err)
			}
		})
	}
}
