package firmador

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// Signer define el puerto de salida hacia el servicio firmador. La
// implementación concreta habla HTTP con el firmador local; para tests se
// inyecta un mock.
type Signer interface {
	// Sign envía el DTE en claro y devuelve el JWS firmado.
	Sign(ctx context.Context, creds Credentials, dteJSON json.RawMessage) (string, error)
}

// Credentials son las credenciales de firma del emisor.
type Credentials struct {
	NIT      string
	Password string
}

// ── Implementación HTTP ────────────────────────────────────────────────────────

// Client implementa Signer contra el servicio firmador (svfe-api-firmador).
type Client struct {
	http    *retryablehttp.Client
	baseURL string
}

// NewClient construye el cliente del firmador. El firmador corre en la misma
// red del emisor, así que los reintentos son pocos y cortos.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn().Int("intento", attempt).Str("url", req.URL.Path).Msg("reintentando firmador")
		}
	}
	return &Client{http: rc, baseURL: baseURL}
}

type signRequest struct {
	NIT         string          `json:"nit"`
	Activo      bool            `json:"activo"`
	PasswordPri string          `json:"passwordPri"`
	DTEJson     json.RawMessage `json:"dteJson"`
}

type signResponse struct {
	Status string          `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type signErrorBody struct {
	Codigo  string `json:"codigo"`
	Mensaje string `json:"mensaje"`
}

// Sign firma un DTE. El firmador responde {status: "OK", body: "<jws>"} en
// éxito y {status: "ERROR", body: {codigo, mensaje}} en falla.
func (c *Client) Sign(ctx context.Context, creds Credentials, dteJSON json.RawMessage) (string, error) {
	payload, err := json.Marshal(signRequest{
		NIT:         creds.NIT,
		Activo:      true,
		PasswordPri: creds.Password,
		DTEJson:     dteJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal firmador request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/firmardocumento/", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build firmador request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("firmador no disponible: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("leer respuesta firmador: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("firmador HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var sr signResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("decodificar respuesta firmador: %w", err)
	}
	if sr.Status != "OK" {
		var eb signErrorBody
		_ = json.Unmarshal(sr.Body, &eb)
		return "", fmt.Errorf("firmador rechazó la firma: %s %s", eb.Codigo, eb.Mensaje)
	}

	var jws string
	if err := json.Unmarshal(sr.Body, &jws); err != nil {
		return "", fmt.Errorf("cuerpo de firma inesperado: %w", err)
	}
	if jws == "" {
		return "", fmt.Errorf("firmador devolvió firma vacía")
	}
	return jws, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
