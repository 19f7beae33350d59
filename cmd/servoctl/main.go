// Package main はサーボを対話的に動かす確認用コマンドです
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"kumocam/internal/servo"
)

const usage = `コマンド:
    s <n> <角度>        # 角度 0-180 でサーボを動かす
    a <n> <値>          # アナログ値 0-1023 でサーボを動かす
    p <n> <パルス幅us>  # パルス幅を直接指定する (600-2200)
    l                   # 現在の位置を表示
    q                   # 終了

<n>  チャンネル番号 0-15
`

func main() {
	flags := pflag.NewFlagSet("servoctl", pflag.ContinueOnError)
	var (
		bus   = flags.String("bus", "", "I2Cバス名 (空なら最初のバス)")
		addr  = flags.Uint16("addr", servo.DefaultAddr, "PCA9685のI2Cアドレス")
		dummy = flags.Bool("dummy", false, "ハードウェアを使わずに動作する")
	)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var drv servo.Driver
	if *dummy {
		drv = servo.Dummy()
	} else {
		p, err := servo.NewPCA9685(*bus, *addr)
		if err != nil {
			fmt.Println("PCA9685のオープンに失敗しました:", err)
			os.Exit(1)
		}
		drv = p
	}

	controller := servo.NewController(drv, nil)
	if err := controller.Init(); err != nil {
		fmt.Println("PCA9685の設定に失敗しました:", err)
		_ = controller.Close()
		os.Exit(1)
	}
	defer func() { _ = controller.Close() }()

	fmt.Print(usage)
	if err := repl(os.Stdin, os.Stdout, controller, drv); err != nil {
		fmt.Println("\n標準入力の読み取りに失敗しました:", err)
	}
}

// repl はコマンドを1行ずつ読み取って実行する
func repl(in io.Reader, out io.Writer, controller *servo.Controller, drv servo.Driver) error {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		done, err := execute(strings.Fields(line), out, controller, drv)
		if err != nil {
			fmt.Fprintln(out, err)
		}
		if done {
			return nil
		}
	}
}

// execute は1つのコマンドを実行し、終了するかどうかを返す
func execute(parts []string, out io.Writer, controller *servo.Controller, drv servo.Driver) (bool, error) {
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "q":
		return true, nil
	case "l":
		for _, p := range controller.Positions() {
			fmt.Fprintf(out, "%2d: %s=%d %v (%d)\n", p.Channel, p.Kind, p.Input, p.Pulse, p.Ticks)
		}
		return false, nil
	case "s", "a", "p":
	default:
		return false, fmt.Errorf("不明なコマンド: %s", parts[0])
	}

	if len(parts) < 3 {
		return false, errors.New("引数が足りません")
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return false, fmt.Errorf("整数を指定してください: %s", parts[1])
	}
	if n < 0 || n >= servo.NumChannels {
		return false, fmt.Errorf("チャンネルは 0 <= n < %d です", servo.NumChannels)
	}
	v, err := strconv.Atoi(parts[2])
	if err != nil {
		return false, fmt.Errorf("整数を指定してください: %s", parts[2])
	}

	var pos servo.Position
	switch parts[0] {
	case "s":
		pos, err = controller.MoveDegrees(n, v)
	case "a":
		pos, err = controller.MoveAnalog(n, v)
	case "p":
		pulse := time.Duration(v) * time.Microsecond
		if pulse < servo.MinPulseWidth || pulse > servo.MaxPulseWidth {
			return false, fmt.Errorf("パルス幅は %v から %v です", servo.MinPulseWidth, servo.MaxPulseWidth)
		}
		ticks := servo.Ticks(pulse)
		if err := drv.SetPWM(n, 0, ticks); err != nil {
			return false, fmt.Errorf("PCA9685への書き込みに失敗しました: %w", err)
		}
		fmt.Fprintf(out, "サーボ %d: %v (%d)\n", n, pulse, ticks)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "サーボ %d: %v (%d)\n", n, pos.Pulse, pos.Ticks)
	return false, nil
}
