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
package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"time"
)

const (
	DebugAPIBasePath = "/debug"
	APIBasePath      = "/api"

	APIBatchPath   = APIBasePath + "/batches"
	APIIncomePath  = APIBasePath + "/incoming"
	APILockPath    = APIBasePath + "/locks"
	APIMetricsPath = "/metrics"
)

const operatorRequestTimeout = 30 * time.Second

// Response is the envelope of every operator api reply, failures keep http 200 and carry the code
type Response struct {
	Code  int         `json:"code"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Request calls the operator api of a running sync server and returns the raw reply
func Request(method, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: operatorRequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request [%s %s] http status [%d], please check the sync server logs", method, url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// GetHTTPDebugHandler serves the pprof profiles under /debug/pprof
func GetHTTPDebugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DebugAPIBasePath+"/pprof/", pprof.Index)
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		mux.HandleFunc(DebugAPIBasePath+"/pprof/"+name, h)
	}
	return mux
}
