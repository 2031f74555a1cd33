package domain

import "context"

type plainProvider struct{}

func (plainProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) { return nil, nil }
func (plainProvider) Name() string                                            { return "plain" }

type keyedProvider struct{ key string }

func (keyedProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) { return nil, nil }
func (keyedProvider) Name() string                                            { return "keyed" }
func (p keyedProvider) HasCredential() bool                                   { return p.key != "" }
