/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"

	"github.com/wentaojin/dbsync/utils/constant"
)

// Codec compresses transport payloads
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// GetCodec returns the named codec, blank is no compression
func GetCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", constant.CompressionNone:
		return noneCodec{}, nil
	case constant.CompressionSnappy:
		return snappyCodec{}, nil
	case constant.CompressionLz4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("compression codec [%s] is not supported, please choose none, snappy or lz4", name)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string { return constant.CompressionNone }

func (noneCodec) Compress(src []byte) ([]byte, error) { return src, nil }

func (noneCodec) Decompress(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) Name() string { return constant.CompressionSnappy }

func (snappyCodec) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decompress(src []byte) ([]byte, error) {
	dst, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %v", err)
	}
	return dst, nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return constant.CompressionLz4 }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 compress failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress failed: %v", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	dst, err := io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress failed: %v", err)
	}
	return dst, nil
}
