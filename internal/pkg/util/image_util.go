package util

import (
	"bytes"
	"io"

	"github.com/disintegration/imaging"
)

const avatarEdge = 256

// NormalizeAvatar 统一头像规格：居中裁方图并压成 JPEG，原始大图不落存储
func NormalizeAvatar(reader io.Reader) (io.Reader, int64, error) {
	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, err
	}
	thumb := imaging.Fill(img, avatarEdge, avatarEdge, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, 0, err
	}
	return &buf, int64(buf.Len()), nil
}
