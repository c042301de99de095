package api

import (
	"errors"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxBodySize = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// readBody returns the request body, refusing anything over maxBodySize.
func readBody(c echo.Context) ([]byte, error) {
	body := c.Request().Body
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody unmarshals a JSON body into v. An empty body leaves v untouched.
func decodeBody(c echo.Context, v any) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}

// SonicSerializer is an echo.JSONSerializer backed by sonic.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	return decodeBody(c, i)
}
