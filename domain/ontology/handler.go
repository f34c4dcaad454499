package ontology

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/basalt-works/basalt/pkg/apperror"
)

// Handler handles HTTP requests for the container-scoped schema.
type Handler struct {
	repo *Repository
}

// NewHandler creates a new ontology handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// CreateContainer creates a tenant container.
// POST /api/containers
func (h *Handler) CreateContainer(c echo.Context) error {
	var container Container
	if err := c.Bind(&container); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	if container.Name == "" {
		return apperror.ErrBadRequest.WithMessage("name is required")
	}

	if err := h.repo.CreateContainer(c.Request().Context(), &container); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, container)
}

// GetContainer returns a container by id.
// GET /api/containers/:containerID
func (h *Handler) GetContainer(c echo.Context) error {
	container, err := h.repo.GetContainer(c.Request().Context(), c.Param("containerID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, container)
}

// CreateDataSource registers a data source in a container.
// POST /api/containers/:containerID/data-sources
func (h *Handler) CreateDataSource(c echo.Context) error {
	var ds DataSource
	if err := c.Bind(&ds); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	ds.ContainerID = c.Param("containerID")
	if ds.Name == "" {
		return apperror.ErrBadRequest.WithMessage("name is required")
	}

	if err := h.repo.CreateDataSource(c.Request().Context(), &ds); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ds)
}

// GetDataSource returns a data source by id.
// GET /api/containers/:containerID/data-sources/:id
func (h *Handler) GetDataSource(c echo.Context) error {
	ds, err := h.repo.GetDataSource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ds)
}

// CreateMetatype creates a metatype with its keys.
// POST /api/containers/:containerID/metatypes
func (h *Handler) CreateMetatype(c echo.Context) error {
	var mt Metatype
	if err := c.Bind(&mt); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	mt.ContainerID = c.Param("containerID")
	if mt.Name == "" {
		return apperror.ErrBadRequest.WithMessage("name is required")
	}

	if err := h.repo.CreateMetatype(c.Request().Context(), &mt); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, mt)
}

// GetMetatype returns a metatype with its keys.
// GET /api/containers/:containerID/metatypes/:id
func (h *Handler) GetMetatype(c echo.Context) error {
	mt, err := h.repo.GetMetatype(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mt)
}

// ListMetatypes lists the container's metatypes.
// GET /api/containers/:containerID/metatypes
func (h *Handler) ListMetatypes(c echo.Context) error {
	if name := c.QueryParam("name"); name != "" {
		mt, err := h.repo.GetMetatypeByName(c.Request().Context(), c.Param("containerID"), name)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, []*Metatype{mt})
	}

	list, err := h.repo.ListMetatypes(c.Request().Context(), c.Param("containerID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// CreateRelationship creates a relationship with its keys.
// POST /api/containers/:containerID/relationships
func (h *Handler) CreateRelationship(c echo.Context) error {
	var rel Relationship
	if err := c.Bind(&rel); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	rel.ContainerID = c.Param("containerID")
	if rel.Name == "" {
		return apperror.ErrBadRequest.WithMessage("name is required")
	}

	if err := h.repo.CreateRelationship(c.Request().Context(), &rel); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel)
}

// GetRelationship returns a relationship with its keys.
// GET /api/containers/:containerID/relationships/:id
func (h *Handler) GetRelationship(c echo.Context) error {
	rel, err := h.repo.GetRelationship(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel)
}

// CreatePair binds two metatypes through a relationship.
// POST /api/containers/:containerID/relationship-pairs
func (h *Handler) CreatePair(c echo.Context) error {
	var pair RelationshipPair
	if err := c.Bind(&pair); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	pair.ContainerID = c.Param("containerID")
	if pair.RelationshipID == "" || pair.OriginMetatypeID == "" || pair.DestinationMetatypeID == "" {
		return apperror.ErrBadRequest.WithMessage("relationship_id, origin_metatype_id and destination_metatype_id are required")
	}
	if pair.RelationshipType == "" {
		pair.RelationshipType = CardinalityManyToMany
	}
	switch pair.RelationshipType {
	case CardinalityOneToOne, CardinalityOneToMany, CardinalityManyToOne, CardinalityManyToMany:
	default:
		return apperror.ErrBadRequest.WithMessage("invalid relationship_type")
	}

	if err := h.repo.CreatePair(c.Request().Context(), &pair); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pair)
}

// GetPair returns a relationship pair with its relationship and keys.
// GET /api/containers/:containerID/relationship-pairs/:id
func (h *Handler) GetPair(c echo.Context) error {
	pair, err := h.repo.GetPair(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// ListPairs lists the container's relationship pairs.
// GET /api/containers/:containerID/relationship-pairs
func (h *Handler) ListPairs(c echo.Context) error {
	list, err := h.repo.ListPairs(c.Request().Context(), c.Param("containerID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}
