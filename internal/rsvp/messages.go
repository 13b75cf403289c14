package rsvp

// Reply texts. Formats taking a keyword receive the configured invocation keyword.
const (
	msgInitSuccessful = "This thread is now an RSVPBot event for **[%s](%s)**! Type `%s help` for more options."
	msgEventMoved     = "This event has been moved to **[#%s > %s](%s)**!"
	msgEventChanged   = "**This event has changed!**"
	msgTitleChanged   = "The title has changed: %s"
	msgTimeChanged    = "The time has changed: %s"

	msgAttending    = "**You** are attending **%s**!"
	msgNotAttending = "You are **not** attending **%s**!"
	msgStillJoined  = "\n\nYou're still RSVP'd, but %s, so please check with the organizer that there's room for you."

	msgPingHeader = "**Pinging all participants who RSVP'd!!**\n"

	errInvalidCommand          = "`%s` is not a valid RSVPBot command! Type `%s help` for the correct syntax."
	errNotAnEvent              = "This thread is not an RSVPBot event!. Type `%s init` to make it into an event."
	errAlreadyAnEvent          = "Oops! That thread is already an RSVPBot event!"
	errMoveAlreadyAnEvent      = "Oops! #%s > %s is already an RSVPBot event!"
	errBadMoveDestination      = "%s is not a valid move destination URL! `%[2]s move` requires a Zulip stream URL destination (e.g. '%[3]s') Type `%[2]s help` for the correct syntax."
	errNoEventID               = "`%[1]s init` must be passed an RC Calendar event ID or URL. For example:\n\n```\n%[1]s init https://www.recurse.com/calendar/123-my-event\n```"
	errEventNotFound           = "Oops! I couldn't find this event: %s"
	errEventAlreadyInitialized = "Oops! This event was already initialized here: %s"
	errInitNeedsThread         = "Oops! `%s init` only works in a stream thread."
	errCannotInitInAnnounce    = "Oops! You cannot `%s init` in the announce thread."
	errFunctionalityMoved      = "Oops! RSVPBot doesn't support `%s %s` directly anymore. You can now do this [on the RC calendar](%s)!"
	errCalendarNoLongerUsed    = "Oops! RSVPBot no longer uses Google Calendar, but it uses the [RC Calendar](https://www.recurse.com/calendar) instead. This event can be found [here](%s)."
	errMaybeNotSupported       = "Oops! `%s maybe` is no longer supported."

	errJoinArchived   = "Oops! **%s** has been archived, so you can't RSVP to it anymore."
	errJoinDisabled   = "Oops! RSVPs are disabled for **%s**."
	errJoinRefused    = "Oops! I couldn't RSVP you to **%s**: %s"
	errJoinRefusedRaw = "Oops! The calendar wouldn't let you RSVP to **%s**."

	errAttendeesHidden = "The organizer of this event has hidden the attendee list, so I can't share or ping it."

	errUpstream = "Oops! Something went wrong talking to the calendar. Please try again in a bit."
	errInternal = "Oops! RSVPBot hit an internal error. Please let an operator know."
)

var funkyYesPrefixes = []string{
	"GET EXCITED!! ",
	"AWWW YISS!! ",
	"YASSSSS HENNY! ",
	"OMG OMG OMG ",
	"HYPE HYPE HYPE HYPE HYPE ",
	"WOW THIS IS AWESOME: ",
	"YEAAAAAAHHH!!!! :tada: ",
}

var funkyNoSuffixes = []string{
	" :confounded:",
	" Bummer!",
	" Oh no!!",
}

var contributors = []string{
	"Mudit Ameta (SP2'15)",
	"Diego Berrocal (F2'15)",
	"Shad William Hopson (F1'15)",
	"Tom Murphy (F2'15)",
	"Miriam Shiffman (F2'15)",
	"Anjana Sofia Vakil (F2'15)",
	"Steven McCarthy (SP2'15)",
	"Kara McNair (F2'15)",
	"Pris Nasrat (SP2'16)",
	"Benjamin Gilbert (F2'15)",
	"Andrew Drozdov (SP1'15)",
	"Alex Wilson (S1'16)",
	"Jérémie Jost (S1'16)",
	"Amulya Reddy (S1'16)",
	"James J. Porter (S'13)",
}

var testers = []string{
	"Nikki Bee (SP2'15)",
	"Anthony Burdi (SP1'15)",
	"Noella D'sa (SP2'15)",
	"Mudit Ameta (SP2'15)",
}
