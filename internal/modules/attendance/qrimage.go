package attendance

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// RenderQRCode encodes a credential string into a PNG QR code and returns
// it as a data URL for direct embedding. Stateless; no security logic.
func RenderQRCode(credential string) (string, error) {
	png, err := qrcode.Encode(credential, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(png)), nil
}
