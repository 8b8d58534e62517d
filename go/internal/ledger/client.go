package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
)

const (
	ServiceName = "doodle.ledger.v1.LedgerService"

	ChooseWordProcedure    = "/" + ServiceName + "/ChooseWord"
	AdvanceDrawerProcedure = "/" + ServiceName + "/AdvanceDrawer"
)

type ChooseWordRequest struct {
	RoomID string `json:"roomId"`
	Word   string `json:"word"`
}

type ChooseWordResponse struct {
	Accepted bool `json:"accepted"`
}

type AdvanceDrawerRequest struct {
	RoomID string `json:"roomId"`
}

type AdvanceDrawerResponse struct {
	DrawerIndex int `json:"drawerIndex"`
}

// Client calls the ledger's turn mutation entry points.
type Client struct {
	chooseWord    *connect.Client[ChooseWordRequest, ChooseWordResponse]
	advanceDrawer *connect.Client[AdvanceDrawerRequest, AdvanceDrawerResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &Client{
		chooseWord:    connect.NewClient[ChooseWordRequest, ChooseWordResponse](httpClient, baseURL+ChooseWordProcedure, opts...),
		advanceDrawer: connect.NewClient[AdvanceDrawerRequest, AdvanceDrawerResponse](httpClient, baseURL+AdvanceDrawerProcedure, opts...),
	}
}

// SubmitWord picks the turn's word on the drawer's behalf.
func (c *Client) SubmitWord(ctx context.Context, roomID, word string) error {
	res, err := c.chooseWord.CallUnary(ctx, connect.NewRequest(&ChooseWordRequest{RoomID: roomID, Word: word}))
	if err != nil {
		return fmt.Errorf("failed to choose word: %w", err)
	}
	log.Info().
		Str("room_id", roomID).
		Bool("accepted", res.Msg.Accepted).
		Msg("ledger word chosen")
	return nil
}

// AdvanceDrawer moves the room on to its next drawer.
func (c *Client) AdvanceDrawer(ctx context.Context, roomID string) error {
	res, err := c.advanceDrawer.CallUnary(ctx, connect.NewRequest(&AdvanceDrawerRequest{RoomID: roomID}))
	if err != nil {
		return fmt.Errorf("failed to advance drawer: %w", err)
	}
	log.Info().
		Str("room_id", roomID).
		Int("drawer_index", res.Msg.DrawerIndex).
		Msg("ledger drawer advanced")
	return nil
}
