// Dashboard HTTP handlers for operators.
//
//   - GET  /dashboard/conversations                  (paginated, ETag)
//   - GET  /dashboard/conversations/{id}             (thread with messages, ETag)
//   - GET  /dashboard/dead-letters                   (paginated)
//   - POST /dashboard/dead-letters/{id}/requeue
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/services"
)

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ConversationResponse is one thread with its lead and a page of messages
// in chronological order.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Lead         *domain.Lead         `json:"lead"`
	Messages     []domain.Message     `json:"messages"`
	Pagination   Pagination           `json:"pagination"`
}

// ListDeadLettersResponse wraps a page of dead letters.
type ListDeadLettersResponse struct {
	DeadLetters []domain.DeadLetter `json:"dead_letters"`
	Pagination  Pagination          `json:"pagination"`
}

// RequeueResponse describes the job created by a requeue.
type RequeueResponse struct {
	JobID          string `json:"job_id"`
	ConversationID uint   `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
}

func paramID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Dashboard
// @Produce     json
//
// @Param       status         query   string  false  "Filter by status"  Enums(open, closed, resolved)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/dashboard/conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.Query("status")
	switch domain.ConversationStatus(status) {
	case "", domain.ConversationOpen, domain.ConversationClosed, domain.ConversationResolved:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be open, closed or resolved")
		return
	}
	p := pageFromQuery(c)

	if count, latest, err := h.dash.ConversationsVersion(ctx, status); err == nil {
		if notModified(c, weakETag("conversations:"+status, count, latest)) {
			return
		}
	}

	items, total, err := h.dash.ListConversations(ctx, status, p.Number, p.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(p, total),
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Conversation thread
// @Description Returns the conversation, its lead, and a page of messages ordered by timestamp. Supports weak ETag.
// @Tags        Dashboard
// @Produce     json
//
// @Param       id             path    int     true   "Conversation ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ConversationResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/dashboard/conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := paramID(c)
	if !valid {
		return
	}
	p := pageFromQuery(c)

	conv, lead, err := h.dash.Conversation(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	if count, latest, err := h.dash.MessagesVersion(ctx, id); err == nil {
		scope := "messages:" + strconv.FormatUint(uint64(id), 10) + ":" + string(conv.Status)
		if notModified(c, weakETag(scope, count, latest)) {
			return
		}
	}

	msgs, total, err := h.dash.ListMessages(ctx, id, p.Number, p.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ConversationResponse{
		Conversation: conv,
		Lead:         lead,
		Messages:     msgs,
		Pagination:   newPagination(p, total),
	})
}

// ListDeadLetters godoc
// @ID          listDeadLetters
// @Summary     List dead letters (paginated)
// @Description Jobs that exhausted their retries and have not been requeued, newest first.
// @Tags        Dashboard
// @Produce     json
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListDeadLettersResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/dashboard/dead-letters [get]
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	p := pageFromQuery(c)
	items, total, err := h.dead.ListPage(c.Request.Context(), p.Number, p.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDeadLettersResponse{
		DeadLetters: items,
		Pagination:  newPagination(p, total),
	})
}

// RequeueDeadLetter godoc
// @ID          requeueDeadLetter
// @Summary     Requeue a dead letter
// @Description Enqueues a fresh first-attempt job for the dead letter's message.
// @Tags        Dashboard
// @Produce     json
//
// @Param       id  path  int  true  "Dead letter ID"
//
// @Success     202  {object}  handlers.RequeueResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found or already requeued"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/dashboard/dead-letters/{id}/requeue [post]
func (h *Handlers) RequeueDeadLetter(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	job, err := h.dead.Requeue(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, http.StatusAccepted, RequeueResponse{
			JobID:          job.ID,
			ConversationID: job.ConversationID,
			MessageID:      job.MessageID,
		})
	case errors.Is(err, services.ErrDeadLetterNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "dead letter not found or already requeued")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeRequeueFailed, err.Error())
	}
}
