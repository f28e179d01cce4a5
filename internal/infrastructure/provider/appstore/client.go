package appstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	statusOK                = 0
	statusSubscriptionEnded = 21006
	statusSandboxReceipt    = 21007

	serverAPIAudience = "appstoreconnect-v1"
	serverAPITokenTTL = 20 * time.Minute
)

// Client talks to verifyReceipt and the App Store Server API.
type Client struct {
	http       *resty.Client
	cfg        config.AppStoreConfig
	signingKey *ecdsa.PrivateKey
	decoder    *V2Decoder
	limiter    *rate.Limiter
	clock      clock.Clock
	logger     *zap.Logger
}

var _ provider.AppStoreClient = (*Client)(nil)

// NewClient creates a client. signingKey may be nil when only verifyReceipt is used.
func NewClient(cfg config.AppStoreConfig, signingKey *ecdsa.PrivateKey, verifier *JWSVerifier, clk clock.Clock, logger *zap.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(cfg.RequestTimeout)
	httpClient.SetHeader("Accept", "application/json")

	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}

	return &Client{
		http:       httpClient,
		cfg:        cfg,
		signingKey: signingKey,
		decoder:    NewV2Decoder(verifier, cfg.BundleID),
		limiter:    rate.NewLimiter(limit, 1),
		clock:      clk,
		logger:     logger,
	}
}

// LoadSigningKey reads the App Store Connect .p8 key.
func LoadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		ecKey, ecErr := x509.ParseECPrivateKey(block.Bytes)
		if ecErr != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		return ecKey, nil
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported signing key type %T", parsed)
	}
	return key, nil
}

type verifyReceiptRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

// VerifyReceipt validates a receipt against production and retries the sandbox
// when production reports a sandbox receipt.
func (c *Client) VerifyReceipt(ctx context.Context, receipt string, sandbox bool) (*provider.ReceiptVerification, error) {
	url := c.cfg.ProductionURL
	if sandbox || c.cfg.UseSandbox {
		url = c.cfg.SandboxURL
	}

	body, err := c.postReceipt(ctx, url, receipt)
	if err != nil {
		return nil, err
	}
	if body.Status == statusSandboxReceipt && url != c.cfg.SandboxURL {
		c.logger.Debug("Retrying sandbox receipt against sandbox endpoint")
		if body, err = c.postReceipt(ctx, c.cfg.SandboxURL, receipt); err != nil {
			return nil, err
		}
	}
	if body.Status != statusOK && body.Status != statusSubscriptionEnded {
		return nil, &provider.ReceiptStatusError{Status: body.Status}
	}

	tx, err := body.latestTransaction()
	if err != nil {
		return nil, err
	}
	renewal, err := body.renewalFor(tx.OriginalTransactionID)
	if err != nil {
		return nil, err
	}

	return &provider.ReceiptVerification{
		Environment:   body.Environment,
		LatestReceipt: body.LatestReceipt,
		Transaction:   tx,
		Renewal:       renewal,
	}, nil
}

func (c *Client) postReceipt(ctx context.Context, url, receipt string) (*unifiedReceipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(verifyReceiptRequest{
			ReceiptData:            receipt,
			Password:               c.cfg.SharedSecret,
			ExcludeOldTransactions: true,
		}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrVendorUnavailable, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: verifyReceipt returned %d", provider.ErrVendorUnavailable, resp.StatusCode())
	}
	if resp.IsError() {
		return nil, fmt.Errorf("verifyReceipt returned %d", resp.StatusCode())
	}

	var body unifiedReceipt
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: malformed verifyReceipt response: %v", provider.ErrVendorUnavailable, err)
	}
	return &body, nil
}

type transactionInfoResponse struct {
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}

// GetTransaction looks the transaction up in production, then in the sandbox.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*entity.TransactionInfo, error) {
	if c.signingKey == nil {
		return nil, errors.New("app store server api key is not configured")
	}

	bases := []string{c.cfg.ServerAPIURL, c.cfg.SandboxServerAPIURL}
	if c.cfg.UseSandbox {
		bases = []string{c.cfg.SandboxServerAPIURL}
	}

	for _, base := range bases {
		if base == "" {
			continue
		}
		signed, err := c.fetchTransaction(ctx, base, transactionID)
		if errors.Is(err, provider.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return c.decoder.DecodeTransaction(signed)
	}
	return nil, provider.ErrTransactionNotFound
}

func (c *Client) fetchTransaction(ctx context.Context, base, transactionID string) (string, error) {
	token, err := c.bearerToken()
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("transactionId", transactionID).
		Get(strings.TrimRight(base, "/") + "/inApps/v1/transactions/{transactionId}")
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrVendorUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", provider.ErrTransactionNotFound
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: server api returned %d", provider.ErrVendorUnavailable, resp.StatusCode())
	case resp.IsError():
		return "", fmt.Errorf("server api returned %d", resp.StatusCode())
	}

	var body transactionInfoResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.SignedTransactionInfo == "" {
		return "", fmt.Errorf("%w: malformed transaction response", provider.ErrVendorUnavailable)
	}
	return body.SignedTransactionInfo, nil
}

func (c *Client) bearerToken() (string, error) {
	now := c.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.cfg.IssuerID,
		"iat": now.Unix(),
		"exp": now.Add(serverAPITokenTTL).Unix(),
		"aud": serverAPIAudience,
		"bid": c.cfg.BundleID,
	})
	token.Header["kid"] = c.cfg.KeyID

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign server api token: %w", err)
	}
	return signed, nil
}
