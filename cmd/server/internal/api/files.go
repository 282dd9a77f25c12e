package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/middleware"
	"github.com/codedocs/server/cmd/server/internal/users"
)

// HandleCreateFile POST /api/v1/files
// Creates a document; the creator becomes its Owner.
func HandleCreateFile(store document.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Language string `json:"programming_language"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		doc := &document.Document{
			ID:         uuid.NewString(),
			Name:       req.Name,
			Language:   req.Language,
			LinkAccess: document.Viewer,
		}
		ctx := c.Request.Context()
		if err := store.CreateDocument(ctx, doc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create file"})
			return
		}
		m := &document.Membership{UserID: c.GetString(middleware.CtxUserID), DocID: doc.ID, Access: document.Owner}
		if err := store.UpsertMembership(ctx, m); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create membership"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"file":       doc,
			"access":     document.Owner,
			"share_link": document.EncodeLink(doc.ID),
		})
	}
}

// HandleListFiles GET /api/v1/files
// Lists every document the caller is a member of, with their access.
func HandleListFiles(store document.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		memberships, err := store.MembershipsByUser(ctx, c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
			return
		}
		out := []gin.H{}
		for _, m := range memberships {
			doc, err := store.Document(ctx, m.DocID)
			if err != nil {
				continue
			}
			out = append(out, gin.H{"file": doc, "access": m.Access})
		}
		c.JSON(http.StatusOK, gin.H{"files": out})
	}
}

// HandleDeleteFile DELETE /api/v1/files/:id
// Owner only; memberships are removed with the document.
func HandleDeleteFile(store document.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		docID := c.Param("id")
		m, err := store.Membership(ctx, c.GetString(middleware.CtxUserID), docID)
		if errors.Is(err, document.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve membership"})
			return
		}
		if m.Access != document.Owner {
			c.JSON(http.StatusForbidden, gin.H{"error": "owner access required"})
			return
		}
		if err := store.DeleteDocument(ctx, docID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleShareLink POST /api/v1/files/:id/link
// Returns the opaque invitation link for a document the caller can
// access.
func HandleShareLink(store document.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		docID := c.Param("id")
		if _, err := store.Membership(ctx, c.GetString(middleware.CtxUserID), docID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"share_link": document.EncodeLink(docID)})
	}
}

// HandleDeleteAccount DELETE /api/v1/users/me
// Removes the account, its memberships, and every document the caller
// owns.
func HandleDeleteAccount(manager *users.Manager, store document.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString(middleware.CtxUserID)

		memberships, err := store.MembershipsByUser(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list memberships"})
			return
		}
		for _, m := range memberships {
			if m.Access == document.Owner {
				if err := store.DeleteDocument(ctx, m.DocID); err != nil && !errors.Is(err, document.ErrNotFound) {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete owned file"})
					return
				}
				continue
			}
			if err := store.DeleteMembership(ctx, userID, m.DocID); err != nil && !errors.Is(err, document.ErrNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave file"})
				return
			}
		}
		if err := manager.DeleteUser(ctx, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
