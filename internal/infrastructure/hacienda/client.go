package hacienda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// Credentials son las credenciales del emisor ante Hacienda.
type Credentials struct {
	User     string
	Password string
}

// ReceptionResult es el veredicto de la recepción individual de un DTE.
type ReceptionResult struct {
	Estado           string   `json:"estado"`
	SelloRecibido    string   `json:"selloRecibido"`
	CodigoGeneracion string   `json:"codigoGeneracion"`
	FhProcesamiento  string   `json:"fhProcesamiento"`
	DescripcionMsg   string   `json:"descripcionMsg"`
	Observaciones    []string `json:"observaciones"`
	Raw              []byte   `json:"-"`
}

// EventResult es la respuesta al evento de contingencia.
type EventResult struct {
	Estado        string   `json:"estado"`
	SelloRecibido string   `json:"selloRecibido"`
	Observaciones []string `json:"observaciones"`
	Raw           []byte   `json:"-"`
}

// LoteReceipt es el acuse de recepción de un lote.
type LoteReceipt struct {
	Estado         string `json:"estado"`
	CodigoLote     string `json:"codigoLote"`
	DescripcionMsg string `json:"descripcionMsg"`
	Raw            []byte `json:"-"`
}

// LoteDocResult es el veredicto individual de un DTE dentro de un lote.
type LoteDocResult struct {
	CodigoGeneracion string   `json:"codigoGeneracion"`
	SelloRecibido    string   `json:"selloRecibido"`
	Estado           string   `json:"estado"`
	DescripcionMsg   string   `json:"descripcionMsg"`
	Observaciones    []string `json:"observaciones"`
}

// LoteStatus es el estado consolidado de un lote consultado.
type LoteStatus struct {
	CodigoLote  string          `json:"codigoLote"`
	Procesados  []LoteDocResult `json:"procesados"`
	Rechazados  []LoteDocResult `json:"rechazados"`
	Raw         []byte          `json:"-"`
}

// ConsultResult es la vista de Hacienda de un DTE ya transmitido.
type ConsultResult struct {
	CodigoGeneracion string `json:"codigoGeneracion"`
	SelloRecibido    string `json:"selloRecibido"`
	Estado           string `json:"estado"`
	FechaEmision     string `json:"fechaEmision"`
	FhProcesamiento  string `json:"fhProcesamiento"`
	Raw              []byte `json:"-"`
}

// API define el puerto de salida hacia los servicios de Hacienda. Para tests
// se inyecta un mock.
type API interface {
	// Ping verifica disponibilidad autenticando contra Hacienda.
	Ping(ctx context.Context, creds Credentials) error
	// Send transmite un DTE firmado por la vía individual.
	Send(ctx context.Context, creds Credentials, req SendRequest) (*ReceptionResult, error)
	// SendEvent transmite el evento de contingencia firmado. El ambiente
	// ya viaja dentro del JWS del evento.
	SendEvent(ctx context.Context, creds Credentials, eventSigned string) (*EventResult, error)
	// SendLote transmite un lote de DTEs firmados.
	SendLote(ctx context.Context, creds Credentials, req LoteRequest) (*LoteReceipt, error)
	// ConsultLote consulta los veredictos de un lote recibido.
	ConsultLote(ctx context.Context, creds Credentials, codigoLote string) (*LoteStatus, error)
	// ConsultDTE consulta un DTE por código de generación. Devuelve
	// APIError not_found si Hacienda no lo conoce.
	ConsultDTE(ctx context.Context, creds Credentials, ambiente, tipoDTE, codigoGeneracion, fechaEmision string) (*ConsultResult, error)
}

// SendRequest es el sobre de la recepción individual.
type SendRequest struct {
	Ambiente         string `json:"ambiente"`
	IDEnvio          int    `json:"idEnvio"`
	Version          int    `json:"version"`
	TipoDTE          string `json:"tipoDte"`
	CodigoGeneracion string `json:"codigoGeneracion"`
	Documento        string `json:"documento"` // JWS firmado
}

// LoteRequest es el sobre de la recepción por lote.
type LoteRequest struct {
	Ambiente   string   `json:"ambiente"`
	IDEnvio    string   `json:"idEnvio"`
	Version    int      `json:"version"`
	NITEmisor  string   `json:"nitEmisor"`
	Documentos []string `json:"documentos"` // JWS firmados
}

// ── Implementación HTTP ────────────────────────────────────────────────────────

// Client implementa API contra los servicios REST de Hacienda. Cachea el
// token por usuario hasta poco antes de su vencimiento.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	logger  zerolog.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenTTL es conservador frente a las 24 h nominales del token de Hacienda.
const tokenTTL = 8 * time.Hour

// NewClient construye el cliente de Hacienda con la política de reintentos
// HTTP: se reintentan fallas de red, 5xx y 429; nunca otros 4xx, porque un
// 4xx repetido da la misma respuesta.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 8 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return true, nil
		}
		return false, nil
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn().Int("intento", attempt).Str("url", req.URL.Path).Msg("reintentando hacienda")
		}
	}
	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		tokens:  make(map[string]cachedToken),
	}
}

// authenticate obtiene (o reutiliza) el token Bearer del usuario.
func (c *Client) authenticate(ctx context.Context, creds Credentials) (string, error) {
	c.mu.Lock()
	if cached, ok := c.tokens[creds.User]; ok && time.Now().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.token, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("user", creds.User)
	form.Set("pwd", creds.Password)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/seguridad/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", c.classify(status, body, "autenticación fallida")
	}

	var ar struct {
		Status string `json:"status"`
		Body   struct {
			Token     string `json:"token"`
			TokenType string `json:"tokenType"`
		} `json:"body"`
	}
	if err := json.Unmarshal(body, &ar); err != nil {
		return "", &APIError{Kind: KindServer, StatusCode: status, Message: "respuesta de auth ilegible", Body: body}
	}
	if ar.Status != "OK" || ar.Body.Token == "" {
		return "", &APIError{Kind: KindValidation, StatusCode: status, Message: "credenciales rechazadas", Body: body}
	}

	c.mu.Lock()
	c.tokens[creds.User] = cachedToken{token: ar.Body.Token, expiresAt: time.Now().Add(tokenTTL)}
	c.mu.Unlock()
	return ar.Body.Token, nil
}

// invalidateToken descarta el token cacheado del usuario tras un 401.
func (c *Client) invalidateToken(user string) {
	c.mu.Lock()
	delete(c.tokens, user)
	c.mu.Unlock()
}

// Ping autentica contra Hacienda como sonda de disponibilidad.
func (c *Client) Ping(ctx context.Context, creds Credentials) error {
	c.invalidateToken(creds.User)
	_, err := c.authenticate(ctx, creds)
	return err
}

// Send transmite un DTE firmado por la vía individual.
func (c *Client) Send(ctx context.Context, creds Credentials, sendReq SendRequest) (*ReceptionResult, error) {
	body, status, err := c.postJSON(ctx, creds, "/fesv/recepciondte", sendReq)
	if err != nil {
		return nil, err
	}

	var rr ReceptionResult
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, &APIError{Kind: KindServer, StatusCode: status, Message: "respuesta de recepción ilegible", Body: body}
	}
	rr.Raw = body

	switch {
	case status == http.StatusOK && rr.Estado == "PROCESADO":
		return &rr, nil
	case rr.Estado == "RECHAZADO":
		return &rr, &APIError{
			Kind: KindRejection, StatusCode: status,
			Message:       rr.DescripcionMsg,
			Body:          body,
			Observaciones: rr.Observaciones,
		}
	default:
		return nil, c.classify(status, body, rr.DescripcionMsg)
	}
}

// SendEvent transmite el evento de contingencia firmado.
func (c *Client) SendEvent(ctx context.Context, creds Credentials, eventSigned string) (*EventResult, error) {
	payload := map[string]any{
		"nit":       creds.User,
		"documento": eventSigned,
	}
	body, status, err := c.postJSON(ctx, creds, "/fesv/contingencia", payload)
	if err != nil {
		return nil, err
	}

	var er EventResult
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, &APIError{Kind: KindServer, StatusCode: status, Message: "respuesta de contingencia ilegible", Body: body}
	}
	er.Raw = body

	switch {
	case status == http.StatusOK && er.Estado == "RECIBIDO":
		return &er, nil
	case er.Estado == "RECHAZADO":
		return &er, &APIError{
			Kind: KindRejection, StatusCode: status,
			Message:       "evento de contingencia rechazado",
			Body:          body,
			Observaciones: er.Observaciones,
		}
	default:
		return nil, c.classify(status, body, "evento de contingencia sin veredicto")
	}
}

// SendLote transmite un lote de DTEs firmados.
func (c *Client) SendLote(ctx context.Context, creds Credentials, loteReq LoteRequest) (*LoteReceipt, error) {
	body, status, err := c.postJSON(ctx, creds, "/fesv/recepcionlote", loteReq)
	if err != nil {
		return nil, err
	}

	var lr LoteReceipt
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, &APIError{Kind: KindServer, StatusCode: status, Message: "acuse de lote ilegible", Body: body}
	}
	lr.Raw = body

	if status != http.StatusOK || lr.CodigoLote == "" {
		return nil, c.classify(status, body, lr.DescripcionMsg)
	}
	return &lr, nil
}

// ConsultLote consulta los veredictos de un lote recibido.
func (c *Client) ConsultLote(ctx context.Context, creds Credentials, codigoLote string) (*LoteStatus, error) {
	body, status, err := c.getJSON(ctx, creds, "/fesv/recepcion/consultadtelote/"+url.PathEscape(codigoLote))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &APIError{Kind: KindNotFound, StatusCode: status, Message: "lote no encontrado", Body: body}
	}
	if status != http.StatusOK {
		return nil, c.classify(status, body, "consulta de lote fallida")
	}

	var ls LoteStatus
	if err := json.Unmarshal(body, &ls); err != nil {
		return nil, &APIError{Kind: KindServer, StatusCode: status, Message: "estado de lote ilegible", Body: body}
	}
	ls.Raw = body
	return &ls, nil
}

// ConsultDTE consulta un DTE por código de generación. La fecha de emisión va
// en formato dd/MM/yyyy, como la exige el servicio de consulta.
func (c *Client) ConsultDTE(ctx context.Context, creds Credentials, ambiente, tipoDTE, codigoGeneracion, fechaEmision string) (*ConsultResult, error) {
	payload := map[string]string{
		"nitEmisor":        creds.User,
		"tdte":             tipoDTE,
		"codigoGeneracion": codigoGeneracion,
		"fechaEmision":     fechaEmision,
		"ambiente":         ambiente,
	}
	body, status, err := c.postJSON(ctx, creds, "/fesv/recepcion/consultadte", payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &APIError{Kind: KindNotFound, StatusCode: status, Message: "DTE no encontrado en hacienda", Body: body}
	}
	if status != http.StatusOK {
		return nil, c.classify(status, body, "consulta de DTE fallida")
	}

	var cr ConsultResult
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, &APIError{Kind: KindServer, StatusCode: status, Message: "respuesta de consulta ilegible", Body: body}
	}
	cr.Raw = body
	return &cr, nil
}

// ── Transporte ─────────────────────────────────────────────────────────────────

func (c *Client) postJSON(ctx context.Context, creds Credentials, path string, payload any) ([]byte, int, error) {
	token, err := c.authenticate(ctx, creds)
	if err != nil {
		return nil, 0, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal hacienda request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, raw)
	if err != nil {
		return nil, 0, fmt.Errorf("build hacienda request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	body, status, err := c.do(req)
	if status == http.StatusUnauthorized {
		c.invalidateToken(creds.User)
	}
	return body, status, err
}

func (c *Client) getJSON(ctx context.Context, creds Credentials, path string) ([]byte, int, error) {
	token, err := c.authenticate(ctx, creds)
	if err != nil {
		return nil, 0, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build hacienda request: %w", err)
	}
	req.Header.Set("Authorization", token)

	body, status, err := c.do(req)
	if status == http.StatusUnauthorized {
		c.invalidateToken(creds.User)
	}
	return body, status, err
}

func (c *Client) do(req *retryablehttp.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &APIError{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, &APIError{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "leer respuesta: " + err.Error()}
	}
	return body, resp.StatusCode, nil
}

// classify mapea un status HTTP sin veredicto a la clase de falla.
func (c *Client) classify(status int, body []byte, msg string) *APIError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &APIError{Kind: KindServer, StatusCode: status, Message: msg, Body: body}
	case status >= 400:
		return &APIError{Kind: KindValidation, StatusCode: status, Message: msg, Body: body}
	default:
		return &APIError{Kind: KindServer, StatusCode: status, Message: msg, Body: body}
	}
}
