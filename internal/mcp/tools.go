package mcp

import "github.com/mark3labs/mcp-go/mcp"

// samplingOptions are shared by the two sampler tools.
var samplingOptions = []mcp.ToolOption{
	mcp.WithNumber("temperature",
		mcp.Description("Softmax temperature; 0 is greedy (default from config, 0.8)"),
		mcp.Min(0),
	),
	mcp.WithNumber("top_k",
		mcp.Description("Number of raw candidates requested from the model (default 40)"),
		mcp.Min(1),
	),
	mcp.WithNumber("top_p",
		mcp.Description("Nucleus cutoff in [0,1]; 1 disables it (default 0.95)"),
		mcp.Min(0),
		mcp.Max(1),
	),
	mcp.WithNumber("repeat_penalty",
		mcp.Description("Multiplier on the logprob of tokens already present in text (default 1.0)"),
	),
}

func withSampling(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append(opts, samplingOptions...)
}

var nextTokensToolDef = mcp.NewTool("sampler_next_tokens",
	withSampling(
		mcp.WithDescription("Show the probability distribution of the next token after text. "+
			"Each candidate carries prob (percent), logprob, cumulative_prob and an excluded flag for the nucleus cutoff."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("text", mcp.Required(), mcp.Description("Context to continue")),
	)...,
)

var exploreToolDef = mcp.NewTool("sampler_explore",
	withSampling(
		mcp.WithDescription("Grow several alternative continuations of text. The first path starts from the most "+
			"likely token, the others from lower-ranked candidates; all continue greedily. Paths are sorted by cumulative probability."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("text", mcp.Required(), mcp.Description("Context to continue")),
		mcp.WithNumber("num_paths", mcp.Description("Number of paths (default 3)"), mcp.Min(1)),
		mcp.WithNumber("depth", mcp.Description("Tokens per path (default 5)"), mcp.Min(1)),
		mcp.WithNumber("seed", mcp.Description("Fixes which candidates start the alternative paths")),
	)...,
)

var modelListToolDef = mcp.NewTool("model_list",
	mcp.WithDescription("List installed GGUF model files with sizes, friendly names and the active model."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var modelLookupToolDef = mcp.NewTool("model_lookup",
	mcp.WithDescription("List the GGUF files a Hugging Face repository offers, with sizes."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository in owner/name form")),
)

var modelSwitchToolDef = mcp.NewTool("model_switch",
	mcp.WithDescription("Load an installed model file into the inference backend. Requires backend.command in config."),
	mcp.WithString("filename", mcp.Required(), mcp.Description("Installed .gguf filename")),
)

var modelRenameToolDef = mcp.NewTool("model_rename",
	mcp.WithDescription("Set the display name of an installed model file."),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("filename", mcp.Required(), mcp.Description("Installed .gguf filename")),
	mcp.WithString("friendly_name", mcp.Required(), mcp.Description("New display name")),
)

var modelCardToolDef = mcp.NewTool("model_card",
	mcp.WithDescription("Fetch the README (model card) of a Hugging Face repository as markdown."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository in owner/name form")),
)

var downloadStartToolDef = mcp.NewTool("download_start",
	mcp.WithDescription("Start a background download of a GGUF file. Returns a download_id to poll with download_status."),
	mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository in owner/name form")),
	mcp.WithString("filename", mcp.Required(), mcp.Description("GGUF file in the repository root")),
)

var downloadStatusToolDef = mcp.NewTool("download_status",
	mcp.WithDescription("Get state and progress of a download."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("download_id", mcp.Required(), mcp.Description("ID returned by download_start")),
)

var downloadListToolDef = mcp.NewTool("download_list",
	mcp.WithDescription("List downloads, oldest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithBoolean("active_only", mcp.Description("Only pending and in-progress downloads")),
)

var downloadCancelToolDef = mcp.NewTool("download_cancel",
	mcp.WithDescription("Cancel a pending or running download. Reports cancelled=false for unknown or finished downloads."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("download_id", mcp.Required(), mcp.Description("ID returned by download_start")),
)

var downloadCleanupToolDef = mcp.NewTool("download_cleanup",
	mcp.WithDescription("Forget finished downloads older than max_age_hours. Downloaded files are kept."),
	mcp.WithNumber("max_age_hours", mcp.Description("Default: downloads.retention_hours from config"), mcp.Min(0)),
)
