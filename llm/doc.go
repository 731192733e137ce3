// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides unified LLM provider abstraction and routing.

# Overview

The llm package provides a unified interface for interacting with multiple
Large Language Model providers. It abstracts away provider-specific details
and provides features like routing, caching, retry logic, and observability.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Application Layer                        │
	├─────────────────────────────────────────────────────────────┤
	│                    Router / Load Balancer                   │
	│  (Model-based routing, failover, load balancing)           │
	├─────────────────────────────────────────────────────────────┤
	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
	│  │   Cache     │  │   Retry     │  │   Observability     │ │
	│  │  (L1/L2)    │  │  (Backoff)  │  │  (Metrics/Tracing)  │ │
	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
	├─────────────────────────────────────────────────────────────┤
	│                    Provider Interface                       │
	├──────────┬──────────┬──────────┬──────────┬────────────────┤
	│  OpenAI  │ Anthropic│  Gemini  │ DeepSeek │    Others...   │
	└──────────┴──────────┴──────────┴──────────┴────────────────┘

# Provider Interface

The core Provider interface defines the contract for all LLM providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Supported Providers

The package supports 13+ LLM providers out of the box:

  - OpenAI (GPT-4, GPT-4o, GPT-3.5-turbo)
  - Anthropic (Claude 3 Opus, Sonnet, Haiku)
  - Google (Gemini Pro, Gemini Ultra)
  - DeepSeek (DeepSeek-Chat, DeepSeek-Coder)
  - Alibaba (Qwen-Turbo, Qwen-Plus, Qwen-Max)
  - Tencent (Hunyuan)
  - Moonshot (Kimi)
  - Zhipu (GLM-4)
  - ByteDance (Doubao)
  - Azure OpenAI
  - AWS Bedrock (Claude models)
  - MiniMax
  - Mistral
  - Meta (Llama)
  - xAI (Grok)

# Usage

Basic usage with a single provider:

	provider := openai.NewOpenAIProvider(providers.OpenAIConfig{
	    BaseProviderConfig: providers.BaseProviderConfig{
	        APIKey: "your-api-key",
	        Model:  "gpt-4o",
	    },
	}, logger)

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	})

Using the deployment router and pipeline for a multi-provider setup:

	rt := router.NewDeploymentRouter(router.StrategyUsageBased, 60*time.Second, logger)
	rt.AddDeployment(&types.Deployment{ID: "openai-1", ModelGroup: "default", Provider: "openai", Model: "gpt-4o", Weight: 100})
	rt.AddDeployment(&types.Deployment{ID: "claude-1", ModelGroup: "default", Provider: "claude", Model: "claude-3-opus", Weight: 100})

	// registry implements Provider(name string) (llm.Provider, bool)
	pipe := pipeline.New(pipeline.Config{Router: rt, Providers: registry, Logger: logger})

	// The router picks a deployment in the model group; the pipeline
	// dispatches to the provider registered under its Provider name.
	resp, err := pipe.Execute(ctx, &llm.ChatRequest{
	    ModelGroup: "default",
	    Messages:   messages,
	})

# Streaming

All providers support streaming responses:

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Err != nil {
	        log.Printf("Error: %v", chunk.Err)
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Caching

The package provides multi-level caching:

	promptCache := cache.NewMultiLevelCache(redisClient, cache.DefaultCacheConfig(), logger)

# Retry and Resilience

Built-in retry with exponential backoff:

	resilientProvider := llm.NewResilientProvider(provider, &llm.ResilienceConfig{
	    MaxRetries:     3,
	    InitialBackoff: 100 * time.Millisecond,
	    MaxBackoff:     10 * time.Second,
	    CircuitBreaker: true,
	})

# Observability

The llm/observability package computes per-request USD cost from token counts:

	calc := observability.NewCostCalculator()
	usd := calc.Calculate("openai", "gpt-4o", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

Prometheus metrics are collected by internal/metrics; tracing helpers
live in internal/telemetry.

# Tool Calling

Support for native function calling:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {
	            Name:        "get_weather",
	            Description: "Get current weather for a location",
	            Parameters:  weatherParamsSchema,
	        },
	    },
	})

# Error Handling

The package defines structured error codes:

	const (
	    ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	    ErrAuthentication      ErrorCode = "AUTHENTICATION"
	    ErrRateLimit           ErrorCode = "RATE_LIMIT"
	    ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	    ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}

# Per-request Credentials

A request can carry its own upstream API key through the context;
providers built on openaicompat use it in place of their configured key:

	ctx = llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: "per-request-key"})

See the subpackages for additional functionality:
  - llm/cache: Prompt caching with multiple strategies
  - llm/middleware: Request/response middleware
  - llm/observability: Per-model USD cost calculation
  - llm/retry: Retry strategies and backoff
  - llm/router: Multi-provider routing
  - llm/circuitbreaker, llm/idempotency: per-deployment resilience, wired through resilient_provider.go
  - llm/providers/*: Provider-specific implementations
*/
package llm
