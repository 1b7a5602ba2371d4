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
package stringutil

import (
	"encoding/json"
	"os"
	"strings"
	"unsafe"

	"github.com/google/uuid"
)

// IsContainedString reports whether item is one of items
func IsContainedString(items []string, item string) bool {
	for _, v := range items {
		if v == item {
			return true
		}
	}
	return false
}

// BytesToString converts without copying, b must not change afterwards
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// StringPtr returns the pointer of the string
func StringPtr(s string) *string {
	return &s
}

// NullableEqual compares two nullable strings, two nil are equal
func NullableEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MarshalJSON renders v for log fields and cli output
func MarshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return BytesToString(b), nil
}

// GetLocalHostName returns the host name, a random uuid when the host name is unknown
func GetLocalHostName() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return uuid.NewString()
	}
	return hostname
}
