// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashext

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// SumHex returns the lowercase hex MD5 digest of b. The CDN content-address
// scheme (galaxy-path) and every DepotItem/Chunk invariant in this engine
// are expressed in terms of this exact encoding.
func SumHex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// SumReaderHex consumes r to EOF and returns the lowercase hex MD5 digest.
func SumReaderHex(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHex reports whether b hashes to the given lowercase hex MD5 digest.
func VerifyHex(b []byte, wantHex string) bool {
	return SumHex(b) == wantHex
}
