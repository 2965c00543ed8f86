// Preflight checks for the backup environment ("will the next run work?"),
// reported as a tree
package doctor

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

type Check struct {
	Title    string
	Status   Status
	Details  string
	Children []Check
}

type Checker interface {
	Check() Check
}

type folder struct {
	title    string
	children []Checker
}

func NewFolder(title string, children ...Checker) Checker {
	return &folder{title, children}
}

func (f *folder) Check() Check {
	childResults := []Check{}

	for _, child := range f.children {
		childResults = append(childResults, child.Check())
	}

	return Check{
		Title:    f.title,
		Status:   worstOf(childResults, StatusPass),
		Children: childResults,
	}
}

func NewStaticCheck(title string, status Status, details string) Checker {
	return &staticCheck{title, status, details}
}

type staticCheck struct {
	title   string
	status  Status
	details string
}

func (s *staticCheck) Check() Check {
	return Check{Title: s.title, Status: s.status, Details: s.details}
}

func NewFuncCheck(title string, fn func() (Status, string)) Checker {
	return &funcCheck{title, fn}
}

type funcCheck struct {
	title string
	fn    func() (Status, string)
}

func (f *funcCheck) Check() Check {
	status, details := f.fn()

	return Check{Title: f.title, Status: status, Details: details}
}

// worst status found anywhere in the tree (the command's exit code hangs on this)
func Worst(check Check) Status {
	worst := check.Status

	for _, child := range check.Children {
		if childWorst := Worst(child); statusWorse(childWorst, worst) {
			worst = childWorst
		}
	}

	return worst
}

func worstOf(list []Check, initial Status) Status {
	worst := initial

	for _, item := range list {
		if statusWorse(item.Status, worst) {
			worst = item.Status
		}
	}

	return worst
}

func statusWorse(a Status, b Status) bool {
	return statusToInt(a) < statusToInt(b)
}

func statusToInt(status Status) int {
	switch status {
	case StatusPass:
		return 3
	case StatusWarn:
		return 2
	case StatusFail:
		return 1
	default:
		panic("unknown status")
	}
}
