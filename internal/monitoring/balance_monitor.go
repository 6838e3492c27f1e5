// Package monitoring watches sponsor wallet gas balances. A sponsor wallet
// that runs dry stops every settlement it backs, so the monitor alerts a
// webhook before that happens.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/config"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/httputil"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/sponsor"
)

// WalletLister yields the sponsor wallets to watch.
type WalletLister interface {
	ListWallets(ctx context.Context) ([]sponsor.SponsorWallet, error)
}

// BalanceReader reads native balances per chain.
type BalanceReader interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// ReaderPool yields the balance reader for one chain.
type ReaderPool interface {
	Reader(chain chains.Chain) (BalanceReader, error)
}

// NewEVMReaderPool adapts an RPC client pool to the monitor's reader view.
func NewEVMReaderPool(pool *evm.Pool) ReaderPool {
	return evmReaderPool{pool: pool}
}

type evmReaderPool struct {
	pool *evm.Pool
}

func (p evmReaderPool) Reader(chain chains.Chain) (BalanceReader, error) {
	return p.pool.Client(chain)
}

// BalanceMonitor periodically reads the native balance of every enabled
// sponsor wallet and posts a webhook alert when one drops below the
// configured threshold.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	wallets    WalletLister
	readers    ReaderPool
	threshold  *big.Int
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	alerted map[string]time.Time // wallet ID -> last alert time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert is the webhook payload for one low wallet.
type BalanceAlert struct {
	WalletID   string    `json:"walletId"`
	Address    string    `json:"address"`
	Network    string    `json:"network"`
	BalanceWei string    `json:"balanceWei"`
	Threshold  string    `json:"thresholdWei"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewBalanceMonitor creates a monitor over the sponsor registry.
func NewBalanceMonitor(cfg config.MonitoringConfig, wallets WalletLister, readers ReaderPool, log zerolog.Logger) *BalanceMonitor {
	threshold, ok := new(big.Int).SetString(cfg.LowBalanceWei, 10)
	if !ok || threshold.Sign() < 0 {
		threshold = big.NewInt(0)
	}
	return &BalanceMonitor{
		cfg:        cfg,
		wallets:    wallets,
		readers:    readers,
		threshold:  threshold,
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		logger:     log,
		alerted:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the monitoring loop. No-op when disabled or when no webhook
// is configured.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	if m.cfg.AlertWebhookURL == "" {
		m.logger.Info().Msg("balance_monitor.disabled_no_webhook")
		return
	}

	m.logger.Info().
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Str("threshold_wei", m.threshold.String()).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the monitoring loop and waits for it to finish.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Close implements the lifecycle closer.
func (m *BalanceMonitor) Close() error {
	m.Stop()
	return nil
}

func (m *BalanceMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *BalanceMonitor) checkAll(ctx context.Context) {
	wallets, err := m.wallets.ListWallets(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("balance_monitor.list_failed")
		return
	}

	for _, w := range wallets {
		m.checkWallet(ctx, w)
	}
}

func (m *BalanceMonitor) checkWallet(ctx context.Context, w sponsor.SponsorWallet) {
	chain, err := chains.Resolve(w.Network)
	if err != nil {
		m.logger.Warn().
			Str("sponsor_id", w.ID).
			Str("network", w.Network).
			Msg("balance_monitor.unknown_network")
		return
	}

	reader, err := m.readers.Reader(chain)
	if err != nil {
		m.logger.Error().Err(err).Str("network", chain.Name).Msg("balance_monitor.reader_failed")
		return
	}

	balance, err := reader.NativeBalance(ctx, common.HexToAddress(w.SponsorAddress))
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("sponsor_id", w.ID).
			Str("network", chain.Name).
			Msg("balance_monitor.fetch_failed")
		return
	}

	m.logger.Debug().
		Str("sponsor_id", w.ID).
		Str("network", chain.Name).
		Str("balance_wei", balance.String()).
		Msg("balance_monitor.checked")

	if balance.Cmp(m.threshold) >= 0 {
		m.clearAlert(w.ID)
		return
	}
	if m.shouldAlert(w.ID) {
		m.sendAlert(ctx, w, chain, balance)
	}
}

// shouldAlert limits alerts to one per wallet per cooldown window.
func (m *BalanceMonitor) shouldAlert(walletID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.alerted[walletID]
	if !ok {
		return true
	}
	return time.Since(last) > m.cfg.AlertCooldown.Duration
}

func (m *BalanceMonitor) clearAlert(walletID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerted, walletID)
}

func (m *BalanceMonitor) sendAlert(ctx context.Context, w sponsor.SponsorWallet, chain chains.Chain, balance *big.Int) {
	alert := BalanceAlert{
		WalletID:   w.ID,
		Address:    w.SponsorAddress,
		Network:    chain.Name,
		BalanceWei: balance.String(),
		Threshold:  m.threshold.String(),
		Timestamp:  time.Now().UTC(),
	}

	var body []byte
	var err error
	if m.cfg.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
	} else {
		body, err = json.Marshal(alert)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("sponsor_id", w.ID).Msg("balance_monitor.body_failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AlertWebhookURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error().Err(err).Str("sponsor_id", w.ID).Msg("balance_monitor.request_failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Error().Err(err).Str("sponsor_id", w.ID).Msg("balance_monitor.send_failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.logger.Info().
			Str("sponsor_id", w.ID).
			Str("address", logger.TruncateAddress(w.SponsorAddress)).
			Str("network", chain.Name).
			Str("balance_wei", balance.String()).
			Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.alerted[w.ID] = time.Now()
		m.mu.Unlock()
		return
	}
	m.logger.Warn().
		Str("sponsor_id", w.ID).
		Int("status_code", resp.StatusCode).
		Msg("balance_monitor.alert_rejected")
}

func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute alert template: %w", err)
	}
	return buf.Bytes(), nil
}
