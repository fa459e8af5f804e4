package revela

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/logger"
)

// Call is one outbound call site found in decompiled source.
type Call struct {
	Module string `json:"module"`
	Func   string `json:"func"`
}

// Function is one function declaration recovered by the decompiler.
type Function struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	IsEntry    bool   `json:"is_entry"`
	Calls      []Call `json:"calls,omitempty"`
}

// DecompileResult is the resolver's answer for one module.
type DecompileResult struct {
	SourceCode string     `json:"source_code"`
	Functions  []Function `json:"functions,omitempty"`
}

// Client resolves Move source for on-chain modules via the decompiler
// sidecar. A 404/422 from the sidecar means the module cannot be
// decompiled (system package, unverified bytecode) and is surfaced as
// apperrors.ErrSourceUnavailable.
type Client interface {
	Decompile(ctx context.Context, packageAddress, moduleName, network string) (*DecompileResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("REVELA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 120
	if v := os.Getenv("REVELA_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("client", "RevelaClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type decompileRequest struct {
	PackageAddress string `json:"package_address"`
	ModuleName     string `json:"module_name"`
	Network        string `json:"network"`
}

func (c *client) Decompile(ctx context.Context, packageAddress, moduleName, network string) (*DecompileResult, error) {
	packageAddress = strings.TrimSpace(packageAddress)
	moduleName = strings.TrimSpace(moduleName)
	if packageAddress == "" || moduleName == "" {
		return nil, apperrors.Validation("decompile requires package address and module name")
	}
	if strings.TrimSpace(network) == "" {
		network = "mainnet"
	}

	body := decompileRequest{
		PackageAddress: packageAddress,
		ModuleName:     moduleName,
		Network:        network,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/decompile", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.SourceUnavailable("decompiler unreachable for %s::%s: %v", packageAddress, moduleName, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperrors.SourceUnavailable("no source for %s::%s on %s", packageAddress, moduleName, network)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("decompiler http %d: %s", resp.StatusCode, string(raw))
	}

	var out DecompileResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decompiler decode error: %w", err)
	}
	if strings.TrimSpace(out.SourceCode) == "" {
		return nil, apperrors.SourceUnavailable("decompiler returned empty source for %s::%s", packageAddress, moduleName)
	}
	return &out, nil
}
