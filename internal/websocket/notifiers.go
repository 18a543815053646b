package websocket

import (
	"context"

	"go.uber.org/zap"
)

// Convenience notifiers for the REST routes. Call them after the write that
// caused the event has committed.

// NotifyNewCatch tells the author's friends about a new catch.
func (h *Hub) NotifyNewCatch(ctx context.Context, authorID string, catch CatchSummary) DeliveryResult {
	friends, err := h.audience.FriendsOf(ctx, authorID)
	if err != nil {
		h.logger.Warn("resolve catch audience", zap.String("user_id", authorID), zap.Error(err))
		return DeliveryResult{}
	}
	if catch.AuthorID == "" {
		catch.AuthorID = authorID
	}
	return h.broadcast(dedupe(friends, authorID), NewEnvelope(EventNewCatch, catch))
}

func (h *Hub) NotifyNewLike(ownerID, catchID string, liker Actor) DeliveryResult {
	if ownerID == liker.ID {
		return DeliveryResult{}
	}
	return h.SendToUser(ownerID, NewEnvelope(EventNewLike, LikeData{CatchID: catchID, Liker: liker}))
}

func (h *Hub) NotifyNewComment(ownerID, catchID string, commenter Actor, text string) DeliveryResult {
	if ownerID == commenter.ID {
		return DeliveryResult{}
	}
	return h.SendToUser(ownerID, NewEnvelope(EventNewComment, CommentData{
		CatchID:   catchID,
		Commenter: commenter,
		Comment:   text,
	}))
}

// NotifyNewMessage delivers a chat message to every participant but the sender.
func (h *Hub) NotifyNewMessage(conversationID, senderID string, participantIDs []string, msg MessageSummary) DeliveryResult {
	if msg.SenderID == "" {
		msg.SenderID = senderID
	}
	env := NewEnvelope(EventNewMessage, MessageData{ConversationID: conversationID, Message: msg})
	return h.broadcast(dedupe(participantIDs, senderID), env)
}

func (h *Hub) NotifyFriendRequest(receiverID string, requester Actor) DeliveryResult {
	return h.SendToUser(receiverID, NewEnvelope(EventFriendRequest, FriendRequestData{Requester: requester}))
}

// NotifyFriendRequestAccepted tells the original requester that friend accepted.
func (h *Hub) NotifyFriendRequestAccepted(requesterID string, friend Actor) DeliveryResult {
	return h.SendToUser(requesterID, NewEnvelope(EventFriendRequestAccepted, FriendAcceptedData{Friend: friend}))
}
