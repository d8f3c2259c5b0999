// Command mandapadmin は会場予約管理バックオフィスのAPIサーバー、ワーカー、管理クライアントを起動する。
//
//	mandapadmin serve        APIサーバー（デフォルト）
//	mandapadmin worker       期限切れセッションの定期削除
//	mandapadmin migrate      データベースマイグレーション
//	mandapadmin healthcheck  コンテナ用ヘルスチェック
//	mandapadmin watch        管理APIに接続しイベントを追従
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mandapadmin/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
