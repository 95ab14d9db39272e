// Package whatsapp binds the bot to a WhatsApp account through whatsmeow,
// the native Go WhatsApp Web client. The device session lives in SQLite;
// first start pairs the account by QR code and later starts resume it.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Config controls the session store and which inbound events are emitted.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	// DeviceName is what the phone lists under "Linked devices".
	DeviceName string `yaml:"device_name"`

	RespondToGroups bool `yaml:"respond_to_groups"`
	RespondToDMs    bool `yaml:"respond_to_dms"`
	// AcceptFromMe emits messages typed on the owner's own phone.
	AcceptFromMe bool `yaml:"accept_from_me"`
	Statuses     bool `yaml:"statuses"`

	// DebugProtocol sends whatsmeow's internal log to stdout.
	DebugProtocol bool `yaml:"debug_protocol"`

	// Reconnect waits ReconnectBackoff times the attempt number between
	// attempts. MaxReconnectAttempts 0 retries forever.
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`

	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// DefaultConfig listens to direct chats, groups and statuses.
func DefaultConfig() Config {
	return Config{
		DatabasePath:         "./data/whatsapp.db",
		DeviceName:           "wabot",
		RespondToGroups:      true,
		RespondToDMs:         true,
		Statuses:             true,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
		Watchdog:             DefaultWatchdogConfig(),
	}
}

// WhatsApp is the bot's messaging account.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inboxMu    sync.RWMutex
	inbox      chan *channels.IncomingMessage
	inboxShut  bool
	activityNS atomic.Int64

	stateMu   sync.Mutex
	state     ConnectionState
	observers []ConnectionObserver

	attempts     atomic.Int32
	reconnecting atomic.Bool
	watching     atomic.Bool

	qr qrHub
}

var (
	_ channels.Transport = (*WhatsApp)(nil)
	_ channels.Messaging = (*WhatsApp)(nil)
	_ channels.Signals   = (*WhatsApp)(nil)
	_ channels.Directory = (*WhatsApp)(nil)
)

// New returns a disconnected account. Call Connect to open the session.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = def.DatabasePath
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = def.DeviceName
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}

	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		ctx:    context.Background(),
		inbox:  make(chan *channels.IncomingMessage, 256),
		state:  StateDisconnected,
	}
}

// Connect opens the session store and connects. An unpaired device starts
// QR pairing in the background; codes reach SubscribeQR channels.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.transition(StateConnecting, "", nil)

	client, err := w.openClient()
	if err != nil {
		w.transition(StateDisconnected, "store_error", nil)
		return err
	}
	w.client = client

	if client.Store.ID == nil {
		w.logger.Info("whatsapp: device not paired, waiting for QR scan")
		w.transition(StateWaitingQR, "", nil)
		go w.runPairing(w.ctx)
		return nil
	}

	if err := client.Connect(); err != nil {
		w.transition(StateDisconnected, "connect_error", nil)
		return fmt.Errorf("connecting: %w", err)
	}
	w.logger.Info("whatsapp: session resumed", "jid", w.SelfID())
	w.transition(StateConnected, "session_resumed", nil)
	w.startWatchdog(w.ctx)
	return nil
}

func (w *WhatsApp) openClient() (*whatsmeow.Client, error) {
	if err := os.MkdirAll(filepath.Dir(w.cfg.DatabasePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	dsn := "file:" + w.cfg.DatabasePath + "?_foreign_keys=1&_journal_mode=WAL"
	container, err := sqlstore.New(w.ctx, "sqlite3", dsn, w.protocolLog("store"))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	device, err := container.GetFirstDevice(w.ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})
	client := whatsmeow.NewClient(device, w.protocolLog("client"))
	client.AddEventHandler(w.handleEvent)
	client.EnableAutoReconnect = true
	client.InitialAutoReconnect = true
	return client, nil
}

func (w *WhatsApp) protocolLog(module string) waLog.Logger {
	if !w.cfg.DebugProtocol {
		return waLog.Noop
	}
	return waLog.Stdout(module, "DEBUG", true)
}

// Disconnect drops the socket and closes the Receive stream. It is safe to
// call more than once.
func (w *WhatsApp) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.inboxMu.Lock()
	if !w.inboxShut {
		w.inboxShut = true
		close(w.inbox)
	}
	w.inboxMu.Unlock()

	w.transition(StateDisconnected, "shutdown", nil)
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Logout unlinks this device from the account and wipes the local session.
func (w *WhatsApp) Logout(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	w.transition(StateLoggingOut, "", nil)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := w.client.Logout(ctx); err != nil {
		// The server may already consider the device gone; clear locally.
		w.logger.Warn("whatsapp: logout request failed, deleting local session", "error", err)
		w.client.Disconnect()
		if err := w.client.Store.Delete(ctx); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}

	w.qr.reset()
	w.transition(StateDisconnected, "logout", map[string]any{"needs_qr": true})
	w.logger.Info("whatsapp: logged out")
	return nil
}

// Receive returns the inbound event stream. It is closed by Disconnect.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.inbox
}

// IsConnected reports whether the socket is up and the device paired.
func (w *WhatsApp) IsConnected() bool {
	return w.State() == StateConnected
}

// NeedsQR reports whether the device still has to be paired.
func (w *WhatsApp) NeedsQR() bool {
	return w.client != nil && w.client.Store.ID == nil && !w.IsConnected()
}

// emit queues an inbound event, dropping it when the bot falls behind.
func (w *WhatsApp) emit(msg *channels.IncomingMessage) {
	w.inboxMu.RLock()
	defer w.inboxMu.RUnlock()
	if w.inboxShut {
		return
	}
	select {
	case w.inbox <- msg:
		w.touch()
	default:
		w.logger.Warn("whatsapp: inbox full, dropping event", "from", msg.From, "type", msg.Type)
	}
}

func (w *WhatsApp) touch() {
	w.activityNS.Store(time.Now().UnixNano())
}

func (w *WhatsApp) lastActivity() time.Time {
	ns := w.activityNS.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
