package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/ingest"
)

const (
	defaultFileBaseURL     = "https://api.telegram.org/file/bot"
	defaultDownloadTimeout = 30 * time.Second
	defaultMaxDownloadSize = 20 * 1024 * 1024
)

// API is the subset of *bot.Bot the platform adapter calls.
type API interface {
	GetChat(ctx context.Context, params *tgbot.GetChatParams) (*models.ChatFullInfo, error)
	GetFile(ctx context.Context, params *tgbot.GetFileParams) (*models.File, error)
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// PlatformConfig holds the adapter's tunables.
type PlatformConfig struct {
	Token           string
	DownloadTimeout time.Duration
	MaxDownloadSize int64
	// FileBaseURL overrides the file download endpoint.
	FileBaseURL string
}

// Platform adapts the bot API to the ingestion and media interfaces. Every
// outbound call goes through WithFloodWait.
type Platform struct {
	api     API
	cfg     PlatformConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	httpCli *http.Client
}

// NewPlatform wraps api.
func NewPlatform(api API, cfg PlatformConfig, clock clockwork.Clock, logger *slog.Logger) *Platform {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.MaxDownloadSize <= 0 {
		cfg.MaxDownloadSize = defaultMaxDownloadSize
	}
	if cfg.FileBaseURL == "" {
		cfg.FileBaseURL = defaultFileBaseURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{
		api:     api,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With("component", "platform"),
		httpCli: &http.Client{},
	}
}

// SendMessage sends plain text to a chat.
func (p *Platform) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := WithFloodWait(ctx, p.clock, p.logger, "send_message", func(ctx context.Context) (*models.Message, error) {
		return p.api.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	})
	return err
}

func (p *Platform) getChat(ctx context.Context, id int64) (*models.ChatFullInfo, error) {
	chat, err := WithFloodWait(ctx, p.clock, p.logger, "get_chat", func(ctx context.Context) (*models.ChatFullInfo, error) {
		return p.api.GetChat(ctx, &tgbot.GetChatParams{ChatID: id})
	})
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", id, err)
	}
	if chat == nil {
		return nil, fmt.Errorf("get chat %d: %w", id, ErrPlatform)
	}
	return chat, nil
}

// FetchProfile loads the live profile of a user or chat.
func (p *Platform) FetchProfile(ctx context.Context, id int64) (*ingest.ProfileRef, error) {
	chat, err := p.getChat(ctx, id)
	if err != nil {
		return nil, err
	}
	photo := ""
	if chat.Photo != nil {
		photo = chat.Photo.BigFileID
	}
	return &ingest.ProfileRef{
		ID:        chat.ID,
		ChatType:  string(chat.Type),
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
		Title:     chat.Title,
		Username:  chat.Username,
		PhotoRef:  &photo,
	}, nil
}

// ResolvePeer returns "<type>:<id>" for a reachable user or chat.
func (p *Platform) ResolvePeer(ctx context.Context, id int64) (string, error) {
	chat, err := p.getChat(ctx, id)
	if err != nil {
		return "", err
	}
	return string(chat.Type) + ":" + strconv.FormatInt(chat.ID, 10), nil
}

// DownloadMedia fetches the file behind a file id.
func (p *Platform) DownloadMedia(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, errors.New("empty media reference")
	}
	// the download timeout bounds each attempt, not the flood waits between them
	file, err := WithFloodWait(ctx, p.clock, p.logger, "get_file", func(ctx context.Context) (*models.File, error) {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
		defer cancel()
		return p.api.GetFile(ctx, &tgbot.GetFileParams{FileID: ref})
	})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file == nil || file.FilePath == "" {
		return nil, fmt.Errorf("empty file path returned for %s: %w", ref, ErrPlatform)
	}
	if file.FileSize > p.cfg.MaxDownloadSize {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", ref, file.FileSize, p.cfg.MaxDownloadSize)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()
	url := p.cfg.FileBaseURL + p.cfg.Token + "/" + file.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, ErrPlatform)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	return data, nil
}
