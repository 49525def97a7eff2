package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/users"
	"github.com/iapropria/iapropria/internal/vectorstore"
)

// StatusResponse is the response body for GET /api/status.
type StatusResponse struct {
	Status      string             `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	VectorStore vectorstore.Status `json:"vector_store"`
}

// SearchRequest is the request body for POST /api/v1/search. A nil filter
// means "use the tenant's saved filter"; an empty object means no filter.
type SearchRequest struct {
	TenantID string              `json:"tenant_id"`
	Query    string              `json:"query"`
	Filter   map[string][]string `json:"filter"`
	Limit    int                 `json:"limit"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []vectorstore.SearchResult `json:"results"`
}

// UpsertRequest is the request body for POST /api/v1/documents.
type UpsertRequest struct {
	TenantID string         `json:"tenant_id"`
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// FiltersBody is the request and response body of the filters settings.
type FiltersBody struct {
	Filters map[string][]string `json:"filters"`
}

// ModelBody is the request and response body of the model settings.
type ModelBody struct {
	Model string `json:"model"`
}

// UsersResponse is the response body for GET /api/users.
type UsersResponse struct {
	Users []map[string]any `json:"users"`
}

func (s *Server) handleStatus(c echo.Context) error {
	st := s.vectors.Status(c.Request().Context())
	status := "ok"
	if !st.Configured || !anyHealthy(st.Transports) {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:      status,
		Timestamp:   s.now().UTC(),
		VectorStore: st,
	})
}

func anyHealthy(transports []vectorstore.TransportHealth) bool {
	for _, t := range transports {
		if t.Healthy {
			return true
		}
	}
	return false
}

func (s *Server) handleUsers(c echo.Context) error {
	if s.users == nil {
		return s.httpError(c, users.ErrNoDatabase)
	}
	rows, err := s.users.List(c.Request().Context())
	if err != nil {
		return s.httpError(c, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(http.StatusOK, UsersResponse{Users: rows})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	filter := vectorstore.Filter(req.Filter)
	if req.Filter == nil {
		saved, ok, err := s.settings.UserFilters(req.TenantID)
		if err != nil {
			s.logger.Warn(c.Request().Context(), "ignoring unreadable saved filter", zap.Error(err))
		} else if ok {
			filter = saved
		}
	}

	results, err := s.vectors.Query(c.Request().Context(), vectorstore.SearchRequest{
		TenantID: req.TenantID,
		Query:    req.Query,
		Filter:   filter,
		Limit:    req.Limit,
	})
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleUpsert(c echo.Context) error {
	var req UpsertRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid upsert request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.vectors.Upsert(c.Request().Context(), vectorstore.UpsertRequest{
		TenantID: req.TenantID,
		ID:       req.ID,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDelete(c echo.Context) error {
	err := s.vectors.Delete(c.Request().Context(), c.QueryParam("tenant_id"), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetFilters(c echo.Context) error {
	filters, _, err := s.settings.UserFilters(c.Param("user"))
	if err != nil {
		return s.httpError(c, err)
	}
	if filters == nil {
		filters = map[string][]string{}
	}
	return c.JSON(http.StatusOK, FiltersBody{Filters: filters})
}

func (s *Server) handlePutFilters(c echo.Context) error {
	var body FiltersBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := vectorstore.Filter(body.Filters).Validate(); err != nil {
		return s.httpError(c, err)
	}
	if err := s.settings.SetUserFilters(c.Param("user"), body.Filters); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetModel(c echo.Context) error {
	model, _ := s.settings.UserModel(c.Param("user"))
	return c.JSON(http.StatusOK, ModelBody{Model: model})
}

func (s *Server) handlePutModel(c echo.Context) error {
	var body ModelBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.settings.SetUserModel(c.Param("user"), body.Model); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
