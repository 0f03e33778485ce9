package policy

// Default policy documents written by `vigil init`. The rule ladder never
// sets an earlier stage from a later one; de-escalation happens only through
// the renewal command.

// DefaultRules is the scaffolded rules.yaml.
const DefaultRules = `version: 1

constants:
  remind1_minutes: 360
  remind2_minutes: 60
  partial_overdue_minutes: 240
  full_overdue_minutes: 1440

rules:
  - id: FULL_RELEASE
    when:
      state_in: [PRE_RELEASE, PARTIAL]
      timer.minutes_overdue_gte: constants.full_overdue_minutes
    then:
      set_state: FULL
    stop: true

  - id: PARTIAL_RELEASE
    when:
      state_is: PRE_RELEASE
      timer.minutes_overdue_gte: constants.partial_overdue_minutes
    then:
      set_state: PARTIAL
    stop: true

  - id: OVERDUE
    when:
      state_in: [OK, REMIND_1, REMIND_2]
      timer.minutes_overdue_gte: 1
    then:
      set_state: PRE_RELEASE
    stop: true

  - id: REMIND_2
    when:
      state_in: [OK, REMIND_1]
      timer.minutes_to_deadline_lte: constants.remind2_minutes
      timer.minutes_overdue: 0
    then:
      set_state: REMIND_2
    stop: true

  - id: REMIND_1
    when:
      state_is: OK
      timer.minutes_to_deadline_lte: constants.remind1_minutes
      timer.minutes_to_deadline_gt: constants.remind2_minutes
    then:
      set_state: REMIND_1
    stop: true
`

// DefaultPlan is the scaffolded plan.yaml.
const DefaultPlan = `version: 1

stages:
  OK:
    actions: []

  REMIND_1:
    actions:
      - id: remind1-email
        adapter: email
        channel: reminder
        template: remind1.txt

  REMIND_2:
    actions:
      - id: remind2-email
        adapter: email
        channel: reminder
        template: remind2.txt
      - id: remind2-sms
        adapter: sms
        channel: reminder
        template: remind2_sms.txt

  PRE_RELEASE:
    actions:
      - id: prerelease-email
        adapter: email
        channel: warning
        template: prerelease.txt
      - id: prerelease-webhook
        adapter: webhook
        channel: warning
        template: prerelease.txt

  PARTIAL:
    actions:
      - id: partial-webhook
        adapter: webhook
        channel: disclosure
        template: partial.txt
      - id: partial-archive
        adapter: archive
        channel: disclosure
        template: partial.txt
        artifact: partial-disclosure

  FULL:
    actions:
      - id: full-webhook
        adapter: webhook
        channel: disclosure
        template: full.txt
      - id: full-email
        adapter: email
        channel: disclosure
        template: full.txt
      - id: full-archive
        adapter: archive
        channel: disclosure
        template: full.txt
        artifact: full-disclosure
`

// DefaultStates is the scaffolded states.yaml. Ordering is a lint input;
// the engine does not enforce it.
const DefaultStates = `version: 1

monotonic_enforced: false

stages: [OK, REMIND_1, REMIND_2, PRE_RELEASE, PARTIAL, FULL]
`
