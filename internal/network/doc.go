// Package network はWi-Fiのステーション接続、アクセスポイント、NATを管理する。
//
// 各操作は nmcli / iptables / sysctl を Runner 経由で呼び出す。
// Monitor はステーションの状態をポーリングしてイベントを発行し、
// Repeater はそのイベントに応じてアクセスポイント側のNATを切り替える。
package network
