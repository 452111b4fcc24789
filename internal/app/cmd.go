package app

// Command はauthgateバイナリのサブコマンド。
type Command string

const (
	// CommandServe は認証APIを起動する。引数なしの場合の既定。
	CommandServe Command = "serve"
	// CommandMigrate はusersテーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthzを叩いて終了コードで結果を返す。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

// RequiresConfig はサブコマンドの実行に設定の読み込みが必要かを返す。
// healthcheckはSERVER_PORTのみを参照し、JWT_SECRET等が未設定のコンテナでも動作する。
func (c Command) RequiresConfig() bool {
	return c != CommandHealthcheck
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 未知のサブコマンドや引数なしはCommandServeとして扱い、2つ目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		return CommandServe
	}
}
