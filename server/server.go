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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wentaojin/dbsync/logger"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/service"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/constant"
)

const ginNodeIDKey = "sync_node_id"

// Server serves the sync endpoints of the engine together with the operator api, metrics and debug handlers
type Server struct {
	addr    string
	engine  *service.Engine
	handler *gin.Engine
	httpSrv *http.Server
}

func NewServer(addr string, engine *service.Engine) *Server {
	s := &Server{addr: addr, engine: engine}
	s.handler = s.initHandler()
	return s
}

// Handler returns the http handler of the server
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the engine jobs and serves http until the context is done
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening server addr request", zap.String("address", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen addr [%s] failed: %v", s.addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		return s.engine.Stop()
	})
	return g.Wait()
}

func (s *Server) initHandler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// add a ginzap middleware, which:
	//   - log requests, like a combined access and error log.
	r.Use(ginzap.GinzapWithConfig(logger.GetRootLogger().With(zap.String("component", "gin")), &ginzap.Config{
		TimeFormat: logger.LogTimeFmt,
		UTC:        false}))

	// logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(logger.GetRootLogger().With(zap.String("component", "gin")), true))

	syncGroup := r.Group("", s.authenticate())
	syncGroup.POST(constant.HTTPPathPush, s.SyncPush)
	syncGroup.GET(constant.HTTPPathPull, s.SyncPull)
	syncGroup.POST(constant.HTTPPathAck, s.SyncAck)

	r.GET(constant.HTTPPathStats, s.APIStats)
	r.GET(APIBatchPath, s.APIListBatch)
	r.POST(APIBatchPath+"/:id/reset", s.APIResetBatch)
	r.GET(APIIncomePath, s.APIListIncoming)
	r.GET(APILockPath, s.APIListLock)
	r.GET(APIMetricsPath, gin.WrapH(promhttp.HandlerFor(s.engine.Stats().Registry(), promhttp.HandlerOpts{})))
	r.Any(DebugAPIBasePath+"/pprof/*any", gin.WrapH(GetHTTPDebugHandler()))
	return r
}

// authenticate checks the node id and security token headers of the sync endpoints
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID := c.GetHeader(constant.HTTPHeaderNodeID)
		err := s.engine.Authenticator().Authenticate(c.Request.Context(), nodeID, c.GetHeader(constant.HTTPHeaderSecurityToken))
		switch {
		case err == nil:
			c.Set(ginNodeIDKey, nodeID)
			c.Next()
		case errors.Is(err, topology.ErrNodeDisabled):
			logger.Warn("sync request of a disabled node rejected", zap.String("node_id", nodeID))
			c.AbortWithStatusJSON(http.StatusForbidden, Response{Code: http.StatusForbidden, Error: err.Error()})
		case errors.Is(err, topology.ErrUnknownNode), errors.Is(err, topology.ErrTokenMismatch):
			logger.Warn("sync request rejected", zap.String("node_id", nodeID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Code: http.StatusUnauthorized, Error: err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		}
	}
}

func requestCodec(c *gin.Context) (protocol.Codec, bool) {
	codec, err := protocol.GetCodec(c.GetHeader(constant.HTTPHeaderCompression))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return nil, false
	}
	return codec, true
}

func (s *Server) SyncPush(c *gin.Context) {
	codec, ok := requestCodec(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	payload, err := codec.Decompress(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	acks, err := s.engine.HandlePush(c.Request.Context(), c.GetString(ginNodeIDKey), bytes.NewReader(payload))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	var buf bytes.Buffer
	if err = protocol.EncodeAcks(&buf, acks); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func (s *Server) SyncPull(c *gin.Context) {
	codec, ok := requestCodec(c)
	if !ok {
		return
	}
	payload, err := s.engine.HandlePull(c.Request.Context(), c.GetString(ginNodeIDKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	if len(payload) == 0 {
		c.Header(constant.HTTPHeaderCompression, constant.CompressionNone)
		c.Status(http.StatusOK)
		return
	}
	body, err := codec.Compress(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	c.Header(constant.HTTPHeaderCompression, codec.Name())
	c.Data(http.StatusOK, "application/octet-stream", body)
}

func (s *Server) SyncAck(c *gin.Context) {
	acks, err := protocol.DecodeAcks(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	if err = s.engine.HandleAcks(c.Request.Context(), c.GetString(ginNodeIDKey), acks); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK})
}

func (s *Server) APIStats(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: s.engine.Stats().Snapshot(),
	})
}

func batchFilter(c *gin.Context) (*batchmodel.Filter, error) {
	f := &batchmodel.Filter{
		NodeID:    c.Query("node"),
		ChannelID: c.Query("channel"),
	}
	if status := c.Query("status"); status != "" {
		f.Statuses = strings.Split(strings.ToUpper(status), constant.StringSeparatorComma)
	}
	var err error
	if page := c.Query("page"); page != "" {
		if f.Page, err = strconv.Atoi(page); err != nil {
			return nil, fmt.Errorf("query page [%s] is not a number", page)
		}
	}
	if size := c.Query("pageSize"); size != "" {
		if f.PageSize, err = strconv.Atoi(size); err != nil {
			return nil, fmt.Errorf("query pageSize [%s] is not a number", size)
		}
	}
	return f, nil
}

func (s *Server) APIListBatch(c *gin.Context) {
	f, err := batchFilter(c)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	batches, err := s.engine.Batches().ListBatches(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: batches})
}

func (s *Server) APIResetBatch(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: fmt.Sprintf("batch id [%s] is not a number", c.Param("id"))})
		return
	}
	b, err := s.engine.Batches().ResetBatch(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	logger.Info("outgoing batch reset by operator", zap.Uint64("batch_id", id))
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: b})
}

func (s *Server) APIListIncoming(c *gin.Context) {
	f, err := batchFilter(c)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	batches, err := s.engine.Incoming().ListBatches(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: batches})
}

func (s *Server) APIListLock(c *gin.Context) {
	locks, err := s.engine.ClusterLock().FindLocks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, Response{Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: locks})
}
