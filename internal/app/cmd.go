package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は運用サーバーと予約配信スケジューラを起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は予約配信スケジューラのみを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandPublish は指定した投稿を1回配信する。
	CommandPublish Command = "publish"
	// CommandDelete は指定した投稿を削除する。
	CommandDelete Command = "delete"
	// CommandTimeline は接続済みアカウントのタイムラインを取得する。
	CommandTimeline Command = "timeline"
	// CommandInsights は投稿のメトリクスを取得する。
	CommandInsights Command = "insights"
	// CommandCredentials は保存済みOAuthクライアント資格情報の状態を表示する。
	CommandCredentials Command = "credentials"
	// CommandSetCredentials はOAuthクライアント資格情報を保存する。
	CommandSetCredentials Command = "set-credentials"
	// CommandConnect はOAuth接続済みアカウントのトークンを登録する。
	CommandConnect Command = "connect"
	// CommandDisconnect は接続済みアカウントを削除する。
	CommandDisconnect Command = "disconnect"
)

// commandUsage は引数が必要なサブコマンドの使い方と最小引数数。
var commandUsage = map[Command]struct {
	usage   string
	minArgs int
}{
	CommandPublish:        {"publish <post-id>", 1},
	CommandDelete:         {"delete <post-id>", 1},
	CommandTimeline:       {"timeline <platform> [since-duration]", 1},
	CommandInsights:       {"insights <post-id>", 1},
	CommandSetCredentials: {"set-credentials <platform> <client-id> <client-secret>", 3},
	CommandConnect:        {"connect <platform> <platform-user-id> <access-token> [refresh-token] [expires-in-seconds]", 3},
	CommandDisconnect:     {"disconnect <platform>", 1},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck,
		CommandPublish, CommandDelete, CommandTimeline, CommandInsights,
		CommandCredentials, CommandSetCredentials, CommandConnect, CommandDisconnect:
		return cmd
	default:
		return CommandServe
	}
}

// CommandArgs はサブコマンド名を除いた引数を返し、必須引数の不足を検証する。
func CommandArgs(cmd Command, args []string) ([]string, error) {
	var rest []string
	if len(args) > 0 && Command(args[0]) == cmd {
		rest = args[1:]
	}

	u, ok := commandUsage[cmd]
	if !ok {
		return rest, nil
	}
	if len(rest) < u.minArgs {
		return nil, fmt.Errorf("missing arguments: usage: crosspost %s", u.usage)
	}
	for i := 0; i < u.minArgs; i++ {
		if strings.TrimSpace(rest[i]) == "" {
			return nil, fmt.Errorf("empty argument: usage: crosspost %s", u.usage)
		}
	}
	return rest, nil
}
