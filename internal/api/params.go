package api

import (
	"fmt"
	"net/url"

	"github.com/oapi-codegen/runtime"
)

// BindChannel はパスパラメータ channel を整数に変換する
func BindChannel(value string) (int, error) {
	var channel int
	err := runtime.BindStyledParameterWithOptions("simple", "channel", value, &channel,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return 0, fmt.Errorf("パラメータchannelの形式が無効: %w", err)
	}
	return channel, nil
}

// BindOTACommand はクエリパラメータ command を取り出す
func BindOTACommand(query url.Values) (string, error) {
	var command string
	if err := runtime.BindQueryParameter("form", true, false, "command", query, &command); err != nil {
		return "", fmt.Errorf("パラメータcommandの形式が無効: %w", err)
	}
	return command, nil
}
