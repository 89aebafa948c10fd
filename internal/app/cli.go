package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/crosspost/internal/account"
	"github.com/hitoshi/crosspost/internal/config"
	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

// defaultTimelineWindow はtimelineコマンドでsinceを省略した場合の取得期間。
const defaultTimelineWindow = 7 * 24 * time.Hour

// timelinePageSize はtimelineコマンドの1ページあたりの取得件数。
const timelinePageSize = 25

// runOneShot は1回で完了するサブコマンドを実行する。
func runOneShot(ctx context.Context, cfg *config.Config, db *sql.DB, cmd Command, args []string) error {
	svc, err := buildServices(ctx, cfg, db, metrics.Nop{}, slog.Default())
	if err != nil {
		return err
	}
	workspaceID := svc.workspace.ID

	switch cmd {
	case CommandPublish:
		p, err := svc.publish.Publish(ctx, workspaceID, args[0])
		if err != nil {
			return err
		}
		attrs := []any{slog.String("post_id", p.ID), slog.String("status", string(p.Status))}
		for platform, id := range p.PlatformPostIDs {
			attrs = append(attrs, slog.String(string(platform), id))
		}
		slog.Info("publish completed", attrs...)
		return nil

	case CommandDelete:
		deleted, err := svc.delete.Delete(ctx, workspaceID, args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return model.NewPostNotFoundError(args[0])
		}
		slog.Info("delete completed", slog.String("post_id", args[0]))
		return nil

	case CommandTimeline:
		platform, err := parsePlatform(args[0])
		if err != nil {
			return err
		}
		since, err := parseSince(args[1:], time.Now())
		if err != nil {
			return err
		}
		items, err := svc.insights.CollectTimeline(ctx, workspaceID, platform, since, timelinePageSize)
		if err != nil {
			return err
		}
		for _, item := range items {
			slog.Info("timeline item",
				slog.String("platform", string(platform)),
				slog.String("id", item.ID),
				slog.Time("timestamp", item.Timestamp),
				slog.String("permalink", item.Permalink),
				slog.String("media_type", item.MediaType),
			)
		}
		slog.Info("timeline collected",
			slog.String("platform", string(platform)),
			slog.Time("since", since),
			slog.Int("count", len(items)),
		)
		return nil

	case CommandInsights:
		results, err := svc.insights.FetchInsights(ctx, workspaceID, args[0])
		if err != nil {
			return err
		}
		for _, r := range results {
			attrs := []any{
				slog.String("post_id", args[0]),
				slog.String("platform", string(r.Platform)),
				slog.String("platform_post_id", r.PlatformPostID),
			}
			for name, v := range r.Metrics {
				attrs = append(attrs, slog.Int64(name, v))
			}
			slog.Info("post insights", attrs...)
		}
		return nil

	case CommandCredentials:
		for _, platform := range svc.publishers.Platforms() {
			masked, err := svc.credentials.GetMasked(ctx, platform)
			if err != nil {
				return err
			}
			_, resolveErr := svc.credentials.Resolve(ctx, platform, envCredential(cfg, platform))
			slog.Info("oauth credentials",
				slog.String("provider", string(platform)),
				slog.Bool("has_client_id", masked.HasClientID),
				slog.Bool("has_client_secret", masked.HasClientSecret),
				slog.String("client_id_prefix", masked.ClientIDPrefix),
				slog.Bool("resolvable", resolveErr == nil),
			)
		}
		return nil

	case CommandSetCredentials:
		platform, err := parsePlatform(args[0])
		if err != nil {
			return err
		}
		if err := svc.credentials.Set(ctx, platform, args[1], args[2]); err != nil {
			return err
		}
		slog.Info("oauth credentials saved", slog.String("provider", string(platform)))
		return nil

	case CommandConnect:
		params, err := parseConnectArgs(workspaceID, args, time.Now())
		if err != nil {
			return err
		}
		acc, err := svc.accounts.CreateOrUpdate(ctx, params)
		if err != nil {
			return err
		}
		slog.Info("account connected",
			slog.String("account_id", acc.ID),
			slog.String("platform", string(acc.Platform)),
		)
		return nil

	case CommandDisconnect:
		platform, err := parsePlatform(args[0])
		if err != nil {
			return err
		}
		acc, err := svc.accounts.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
		if err != nil {
			return err
		}
		if acc == nil {
			return model.NewAccountNotConnectedError(platform)
		}
		if err := svc.accounts.Delete(ctx, acc.ID); err != nil {
			return err
		}
		slog.Info("account disconnected",
			slog.String("account_id", acc.ID),
			slog.String("platform", string(platform)),
		)
		return nil

	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
}

// parseSince はtimelineコマンドの任意引数（期間）から取得開始時刻を求める。
func parseSince(args []string, now time.Time) (time.Time, error) {
	if len(args) == 0 || args[0] == "" {
		return now.Add(-defaultTimelineWindow), nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid since duration %q", args[0])
	}
	return now.Add(-d), nil
}

// parseConnectArgs はconnectコマンドの引数をConnectParamsに変換する。
// 引数: <platform> <platform-user-id> <access-token> [refresh-token] [expires-in-seconds]
func parseConnectArgs(workspaceID string, args []string, now time.Time) (account.ConnectParams, error) {
	platform, err := parsePlatform(args[0])
	if err != nil {
		return account.ConnectParams{}, err
	}

	params := account.ConnectParams{
		WorkspaceID:    workspaceID,
		Platform:       platform,
		PlatformUserID: args[1],
		AccessToken:    args[2],
	}
	if len(args) > 3 {
		params.RefreshToken = args[3]
	}
	if len(args) > 4 && args[4] != "" {
		secs, err := strconv.Atoi(args[4])
		if err != nil || secs <= 0 {
			return account.ConnectParams{}, fmt.Errorf("invalid expires-in %q", args[4])
		}
		expiresAt := now.Add(time.Duration(secs) * time.Second)
		params.TokenExpiresAt = &expiresAt
	}
	return params, nil
}
