package mcp

import "github.com/mark3labs/mcp-go/mcp"

var validateToolDef = mcp.NewTool("intake_validate",
	mcp.WithDescription("Run the identity, services and photo checks over a consultation record and report every result. Nothing is stored or sent."),
	mcp.WithObject("record",
		mcp.Description("Consultation answers keyed by field name (fullName, phone, email, services, ...). Legacy aliases such as name or service are accepted."),
		mcp.Required(),
	),
	mcp.WithNumber("photo_count",
		mcp.Description("Number of photos the person has selected"),
		mcp.DefaultNumber(0),
		mcp.Min(0),
	),
)

var canonicalizeToolDef = mcp.NewTool("intake_canonicalize",
	mcp.WithDescription("Compress photo files to JPEG and build the canonical submission payload for a record. Nothing is sent."),
	mcp.WithObject("record",
		mcp.Description("Consultation answers keyed by field name"),
		mcp.Required(),
	),
	mcp.WithArray("photos",
		mcp.Description("Photo files: paths, or objects with file, bucket (current or inspiration) and name"),
	),
	mcp.WithString("submitted_from",
		mcp.Description("Page address recorded as submittedFrom"),
	),
	mcp.WithString("user_agent",
		mcp.Description("Client description recorded as userAgent"),
	),
	mcp.WithBoolean("include_photo_data",
		mcp.Description("Include the base64 photo data in the result (default false reports sizes only)"),
	),
)

var draftFetchToolDef = mcp.NewTool("intake_draft_fetch",
	mcp.WithDescription("Fetch the saved draft of an interview session"),
	mcp.WithString("session_id",
		mcp.Description("Session ID"),
		mcp.Required(),
	),
)

var draftListToolDef = mcp.NewTool("intake_draft_list",
	mcp.WithDescription("List saved interview drafts, most recently updated first"),
	mcp.WithNumber("limit",
		mcp.Description("Maximum drafts to return (default 20, max 100)"),
		mcp.Min(0),
	),
	mcp.WithNumber("offset",
		mcp.Description("Drafts to skip"),
		mcp.DefaultNumber(0),
		mcp.Min(0),
	),
)

var draftClearToolDef = mcp.NewTool("intake_draft_clear",
	mcp.WithDescription("Remove the saved draft of an interview session"),
	mcp.WithString("session_id",
		mcp.Description("Session ID"),
		mcp.Required(),
	),
)

var draftPurgeToolDef = mcp.NewTool("intake_draft_purge",
	mcp.WithDescription("Permanently delete drafts that have not been touched for a number of days"),
	mcp.WithNumber("older_than_days",
		mcp.Description("Delete drafts last updated more than this many days ago"),
		mcp.Required(),
		mcp.Min(1),
	),
)

var submissionListToolDef = mcp.NewTool("intake_submission_list",
	mcp.WithDescription("List logged submission attempts, newest first"),
	mcp.WithString("session_id",
		mcp.Description("Only attempts from this session"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum entries to return (default 20, max 100)"),
		mcp.Min(0),
	),
	mcp.WithNumber("offset",
		mcp.Description("Entries to skip"),
		mcp.DefaultNumber(0),
		mcp.Min(0),
	),
)
