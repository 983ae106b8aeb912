package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the risk scoring MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeWallet = mcp.NewTool("analyze_wallet",
	mcp.WithDescription(
		"Score a wallet's transaction history for fraud risk. "+
			"Returns behavioral features (rapid and night activity, fee volatility, daily volume), "+
			"a 0-100 risk score with category, the indicators that fired, and any matched fraud patterns."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Wallet address: EVM (0x...) or Solana (base58)")),
	mcp.WithArray("transactions",
		mcp.Required(),
		mcp.Description("Transaction objects with timestamp (unix seconds), type (TRANSFER, SWAP, ...) and fee"),
		mcp.Items(map[string]any{"type": "object"})),
)

var ToolAnalyzeToken = mcp.NewTool("analyze_token",
	mcp.WithDescription(
		"Score a token's transfer history for wash trading and concentration risk. "+
			"Returns holder and flow features, a 0-100 risk score with category, and the indicators that fired."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Token mint or contract address")),
	mcp.WithArray("transfers",
		mcp.Required(),
		mcp.Description("Transfer objects with from, to, value and timeStamp (unix seconds)"),
		mcp.Items(map[string]any{"type": "object"})),
)

var ToolAnalyzeSubject = mcp.NewTool("analyze_subject",
	mcp.WithDescription(
		"Run the full pipeline on one subject: extract wallet and token features, fuse them with "+
			"social signals, run pattern detection, and score the merged vector with the trained model. "+
			"Provide whichever sources you have."),
	mcp.WithString("subject",
		mcp.Required(),
		mcp.Description("Address the assessment is recorded under")),
	mcp.WithArray("transactions",
		mcp.Description("Wallet transaction objects"),
		mcp.Items(map[string]any{"type": "object"})),
	mcp.WithArray("transfers",
		mcp.Description("Token transfer objects"),
		mcp.Items(map[string]any{"type": "object"})),
	mcp.WithObject("social",
		mcp.Description("Pre-computed social features, e.g. {\"tweet_volume\": 1500, \"sentiment_ratio\": 0.9}")),
)

var ToolPredictFraud = mcp.NewTool("predict_fraud",
	mcp.WithDescription(
		"Score a pre-extracted feature vector with the trained model. "+
			"Returns fraud probability, verdict, confidence and which model answered. "+
			"When no model is trained the heuristic fallback answers and says so."),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("Feature name to number, e.g. {\"rapid_transactions_ratio\": 0.8, \"total_transactions\": 150}")),
	mcp.WithString("subject",
		mcp.Description("Optional address; when set the prediction is recorded in its history")),
)

var ToolGetAssessments = mcp.NewTool("get_assessments",
	mcp.WithDescription(
		"List recent risk assessments recorded for an address, newest first."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Wallet or token address")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 20, max 200)")),
	mcp.WithString("cursor",
		mcp.Description("next_cursor from a previous call, to fetch older assessments")),
)

var ToolModelStatus = mcp.NewTool("model_status",
	mcp.WithDescription(
		"Show the fraud model's state (UNTRAINED, SUPERVISED, UNSUPERVISED or DEGRADED), "+
			"its feature columns, when it was trained, and how many training samples are queued."),
)

var ToolTrainModel = mcp.NewTool("train_model",
	mcp.WithDescription(
		"Train the fraud model on the queued samples. Labeled samples train a supervised forest; "+
			"otherwise an isolation forest is fitted. Returns the training report."),
	mcp.WithBoolean("supervised",
		mcp.Description("Force supervised (true) or unsupervised (false) training. Omit to auto-detect.")),
)
